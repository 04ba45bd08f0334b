package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// OverrideFile is the repo-local override file name. A repository may ship
// one to tighten (or loosen) budget and retry ceilings for its own runs;
// nothing else is overridable from inside a target repo.
const OverrideFile = ".patchsmith.toml"

type overrides struct {
	Budget struct {
		MaxTokens      *int      `toml:"max_tokens"`
		MaxCostUSD     *float64  `toml:"max_cost_usd"`
		MaxStageTokens *int      `toml:"max_stage_tokens"`
		MaxRunDuration *Duration `toml:"max_run_duration"`
		StageTimeout   *Duration `toml:"stage_timeout"`
	} `toml:"budget"`
	Retry struct {
		MaxRetries *int      `toml:"max_retries"`
		BaseDelay  *Duration `toml:"base_delay"`
		MaxDelay   *Duration `toml:"max_delay"`
	} `toml:"retry"`
}

// ApplyRepoOverrides merges budget and retry settings from repoDir's
// .patchsmith.toml, when present, into cfg. The merged result is
// re-validated so a repo cannot smuggle in an unrunnable configuration.
func ApplyRepoOverrides(cfg *Config, repoDir string) error {
	path := filepath.Join(repoDir, OverrideFile)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", OverrideFile, err)
	}

	var o overrides
	meta, err := toml.Decode(string(data), &o)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", OverrideFile, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("%s: unknown key %q (only [budget] and [retry] may be overridden)", OverrideFile, undecoded[0].String())
	}

	if v := o.Budget.MaxTokens; v != nil {
		cfg.Budget.MaxTokens = *v
	}
	if v := o.Budget.MaxCostUSD; v != nil {
		cfg.Budget.MaxCostUSD = *v
	}
	if v := o.Budget.MaxStageTokens; v != nil {
		cfg.Budget.MaxStageTokens = *v
	}
	if v := o.Budget.MaxRunDuration; v != nil {
		cfg.Budget.MaxRunDuration = *v
	}
	if v := o.Budget.StageTimeout; v != nil {
		cfg.Budget.StageTimeout = *v
	}
	if v := o.Retry.MaxRetries; v != nil {
		cfg.Retry.MaxRetries = *v
	}
	if v := o.Retry.BaseDelay; v != nil {
		cfg.Retry.BaseDelay = *v
	}
	if v := o.Retry.MaxDelay; v != nil {
		cfg.Retry.MaxDelay = *v
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%s produced an invalid configuration: %w", OverrideFile, err)
	}
	return nil
}
