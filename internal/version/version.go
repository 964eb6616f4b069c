// SPDX-FileCopyrightText: Copyright The Miniflux Authors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package version // import "feedkeeper.app/internal/version"

import (
	"runtime"
	"strings"
)

const (
	devVersion = "Development Version"
	repoURL    = "https://github.com/feedkeeper/feedkeeper"
)

// Variables populated at build time when using LD_FLAGS.
var (
	Commit    = "Unknown (built outside VCS)"
	BuildDate = "Unknown (built outside VCS)"
	Version   = devVersion
)

// Info describes the running build, as served by the /version endpoint.
type Info struct {
	Version    string `json:"version"`
	VersionURL string `json:"version_url,omitempty"`
	Commit     string `json:"commit"`
	CommitURL  string `json:"commit_url,omitempty"`
	BuildDate  string `json:"build_date"`
	GoVersion  string `json:"go_version"`
	Arch       string `json:"arch"`
	OS         string `json:"os"`
}

func New() Info {
	return Info{
		Version:    Version,
		VersionURL: versionURL(Version),
		Commit:     Commit,
		CommitURL:  commitURL(Commit),
		BuildDate:  BuildDate,
		GoVersion:  runtime.Version(),
		Arch:       runtime.GOARCH,
		OS:         runtime.GOOS,
	}
}

func commitURL(commit string) string {
	if strings.HasPrefix(commit, "Unknown ") {
		return ""
	}
	return repoURL + "/commit/" + commit
}

func versionURL(version string) string {
	if version == devVersion {
		return ""
	}

	tag, commits, found := strings.Cut(version, "-")
	if !found {
		return repoURL + "/releases/tag/v" + tag
	}

	_, hash, found := strings.Cut(commits, "-g")
	if !found {
		return ""
	}
	return repoURL + "/compare/v" + tag + "..." + hash
}
