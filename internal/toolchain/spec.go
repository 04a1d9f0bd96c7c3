// Package toolchain provisions the external GMTSAR binary suite from a
// pinned source commit and verifies the installation.
package toolchain

import (
	"fmt"
	"strings"
)

// Spec pins one toolchain build.
type Spec struct {
	// RepoURL is the source repository of the C toolchain.
	RepoURL string `yaml:"repo_url" json:"repo_url"`

	// Commit pins the exact revision to build. A branch or tag is
	// rejected: rebuilding the same spec must produce the same binaries.
	Commit string `yaml:"commit" json:"commit"`

	// SourceDir is where the repository is cloned.
	SourceDir string `yaml:"source_dir" json:"source_dir"`

	// OrbitsDir is passed to configure as the orbit-file directory.
	OrbitsDir string `yaml:"orbits_dir" json:"orbits_dir"`

	// InstallPrefix is the configure prefix; binaries land under
	// InstallPrefix/bin.
	InstallPrefix string `yaml:"install_prefix" json:"install_prefix"`

	// ConfigureFlags are appended to the configure invocation.
	ConfigureFlags []string `yaml:"configure_flags,omitempty" json:"configure_flags,omitempty"`

	// Jobs bounds make parallelism. Zero means 1.
	Jobs int `yaml:"jobs,omitempty" json:"jobs,omitempty"`

	// Binaries are verified to exist and be executable after install.
	Binaries []string `yaml:"binaries,omitempty" json:"binaries,omitempty"`
}

// Validate checks the fields the build steps depend on.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.RepoURL) == "" {
		return fmt.Errorf("toolchain repo_url is required")
	}
	if strings.TrimSpace(s.Commit) == "" {
		return fmt.Errorf("toolchain commit is required")
	}
	if looksLikeRef(s.Commit) {
		return fmt.Errorf("toolchain commit %q must be a full revision hash, not a branch or tag", s.Commit)
	}
	if strings.TrimSpace(s.SourceDir) == "" {
		return fmt.Errorf("toolchain source_dir is required")
	}
	if strings.TrimSpace(s.InstallPrefix) == "" {
		return fmt.Errorf("toolchain install_prefix is required")
	}
	return nil
}

func looksLikeRef(rev string) bool {
	if len(rev) < 7 {
		return true
	}
	for _, r := range rev {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return true
		}
	}
	return false
}
