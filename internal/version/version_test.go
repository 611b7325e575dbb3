package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFull(t *testing.T) {
	assert.Equal(t, Version, Full())

	originalBuildTime, originalGitCommit := BuildTime, GitCommit
	defer func() {
		BuildTime = originalBuildTime
		GitCommit = originalGitCommit
	}()

	BuildTime = "2026-10-01"
	GitCommit = "abcdef"

	full := Full()
	assert.Contains(t, full, "2026-10-01")
	assert.Contains(t, full, "abcdef")
}

func TestInfo(t *testing.T) {
	info := Info()
	assert.Equal(t, Name, info["service"])
	assert.Equal(t, Version, info["version"])
	assert.Contains(t, info, "git_commit")
}
