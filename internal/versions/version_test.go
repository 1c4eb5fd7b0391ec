package versions

import (
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersionInfo(t *testing.T) {
	t.Parallel()

	noVCS := func() (string, string) { return "", "" }
	withVCS := func() (string, string) { return "0123456789abcdef", "2026-03-01T10:30:00Z" }

	tests := []struct {
		name      string
		version   string
		commit    string
		buildDate string
		vcs       func() (string, string)
		want      VersionInfo
	}{
		{
			name:      "release build",
			version:   "v1.2.0",
			commit:    "abc",
			buildDate: "2026-03-01T10:30:00Z",
			vcs:       withVCS,
			want:      VersionInfo{Version: "v1.2.0", Commit: "abc", BuildDate: "2026-03-01 10:30:00 UTC"},
		},
		{
			name:      "dev build picks up vcs info",
			version:   "dev",
			commit:    unknownStr,
			buildDate: unknownStr,
			vcs:       withVCS,
			want:      VersionInfo{Version: "build-01234567", Commit: "0123456789abcdef", BuildDate: "2026-03-01 10:30:00 UTC"},
		},
		{
			name:      "dev build without vcs info",
			version:   "dev",
			commit:    unknownStr,
			buildDate: unknownStr,
			vcs:       noVCS,
			want:      VersionInfo{Version: "dev", Commit: unknownStr, BuildDate: unknownStr},
		},
		{
			name:      "unparsable build date is kept",
			version:   "v1.0.0",
			commit:    "abc",
			buildDate: "yesterday",
			vcs:       noVCS,
			want:      VersionInfo{Version: "v1.0.0", Commit: "abc", BuildDate: "yesterday"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := versionInfo(tt.version, tt.commit, tt.buildDate, tt.vcs)
			tt.want.GoVersion = runtime.Version()
			tt.want.Platform = runtime.GOOS + "/" + runtime.GOARCH
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUserAgent(t *testing.T) {
	t.Parallel()

	ua := UserAgent()
	assert.True(t, strings.HasPrefix(ua, "examsync/"), ua)
	assert.Contains(t, ua, runtime.GOOS+"/"+runtime.GOARCH)
}
