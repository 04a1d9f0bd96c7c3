package toolchain

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"sarpipe/internal/pipeline"
	"sarpipe/internal/step"
)

// Stage names emitted by the builder, in dependency order.
const (
	StageSource    = "toolchain-source"
	StageConfigure = "toolchain-configure"
	StageBuild     = "toolchain-build"
	StageInstall   = "toolchain-install"
)

// Builder turns a Spec into pipeline stages and verifies the result.
type Builder struct {
	Spec   Spec
	Logger *zap.Logger
}

// NewBuilder validates the spec and returns a builder.
func NewBuilder(spec Spec, logger *zap.Logger) (*Builder, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{Spec: spec, Logger: logger}, nil
}

// BinDir is the directory holding the installed binaries, intended for
// PATH prepending in downstream stages.
func (b *Builder) BinDir() string {
	return filepath.Join(b.Spec.InstallPrefix, "bin")
}

// Stages returns the clone/configure/build/install chain as pipeline
// stages with their dependency edges.
func (b *Builder) Stages() ([]step.Step, []pipeline.Edge) {
	s := b.Spec
	jobs := s.Jobs
	if jobs <= 0 {
		jobs = 1
	}

	configure := fmt.Sprintf("cd %s && autoconf && ./configure --prefix=%s --with-orbits-dir=%s",
		s.SourceDir, s.InstallPrefix, s.OrbitsDir)
	if len(s.ConfigureFlags) > 0 {
		configure += " " + strings.Join(s.ConfigureFlags, " ")
	}

	stages := []step.Step{
		{
			Name: StageSource,
			Run: fmt.Sprintf("if [ ! -d %s/.git ]; then git clone %s %s; fi && git -C %s fetch --all && git -C %s checkout %s",
				s.SourceDir, s.RepoURL, s.SourceDir, s.SourceDir, s.SourceDir, s.Commit),
		},
		{
			Name: StageConfigure,
			Run:  configure,
		},
		{
			Name: StageBuild,
			Run:  fmt.Sprintf("make -C %s -j%d", s.SourceDir, jobs),
		},
		{
			Name: StageInstall,
			Run:  fmt.Sprintf("make -C %s install", s.SourceDir),
		},
	}

	edges := []pipeline.Edge{
		{From: StageSource, To: StageConfigure},
		{From: StageConfigure, To: StageBuild},
		{From: StageBuild, To: StageInstall},
	}
	return stages, edges
}

// Verify checks that every declared binary exists under BinDir and is
// executable.
func (b *Builder) Verify() error {
	binDir := b.BinDir()
	for _, name := range b.Spec.Binaries {
		path := filepath.Join(binDir, name)
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("toolchain binary %s missing: %w", name, err)
		}
		if info.IsDir() || info.Mode().Perm()&0o111 == 0 {
			return fmt.Errorf("toolchain binary %s is not executable", path)
		}
	}

	b.Logger.Info("toolchain verified",
		zap.String("bin_dir", binDir),
		zap.Int("binaries", len(b.Spec.Binaries)))
	return nil
}
