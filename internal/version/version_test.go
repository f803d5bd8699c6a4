package version

import "testing"

func TestGet_LinkTimeValuesWin(t *testing.T) {
	oldV, oldC, oldD := Version, Commit, VCSDirty
	t.Cleanup(func() { Version, Commit, VCSDirty = oldV, oldC, oldD })

	dirty := false
	Version, Commit, VCSDirty = "1.4.0", "0123456789abcdef", &dirty
	info := Get()
	if info.Version != "1.4.0" || info.Commit != "0123456789abcdef" {
		t.Fatalf("info = %+v", info)
	}
	if info.VCSDirty == nil || *info.VCSDirty {
		t.Fatalf("VCSDirty = %v, want false", info.VCSDirty)
	}
	if info.GoVersion == "" {
		t.Fatal("GoVersion should come from build info")
	}
}

func TestShort(t *testing.T) {
	tests := []struct {
		info Info
		want string
	}{
		{Info{Version: "1.0.0", Commit: "0123456789abcdef"}, "1.0.0 (0123456789ab)"},
		{Info{Version: "dev", Commit: "none"}, "dev (none)"},
	}
	for _, tt := range tests {
		if got := tt.info.Short(); got != tt.want {
			t.Errorf("Short() = %q, want %q", got, tt.want)
		}
	}
}
