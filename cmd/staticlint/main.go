// The application is the project's static analysis binary. It bundles
// standard toolchain analyzers, third-party analyzers and the custom
// noosexit analyzer into a single `multichecker.Main` invocation.
//
// The staticcheck analyzer set is configurable through a config.json
// placed next to the binary; without one, every SA-class analyzer runs.
package main

import (
	// Standard analyzers from the Go toolchain.
	"golang.org/x/tools/go/analysis/passes/copylock"
	"golang.org/x/tools/go/analysis/passes/loopclosure"
	"golang.org/x/tools/go/analysis/passes/lostcancel"
	"golang.org/x/tools/go/analysis/passes/printf"
	"golang.org/x/tools/go/analysis/passes/structtag"
	"golang.org/x/tools/go/analysis/passes/unmarshal"
	"golang.org/x/tools/go/analysis/passes/unreachable"

	// Third-party analyzers.
	"github.com/gordonklaus/ineffassign/pkg/ineffassign"
	"github.com/gostaticanalysis/nilerr"

	// Custom analyzer.
	"github.com/patric-chuzhbe/vkccbot/cmd/staticlint/noosexit"

	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/analysis/multichecker"
	"honnef.co/go/tools/staticcheck"

	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// Config is the name of the optional JSON configuration file that lists
// enabled staticcheck analyzers.
const Config = `config.json`

// ConfigData describes the structure of the configuration file.
// The Staticcheck field names the enabled staticcheck analyzers,
// e.g. "SA1000", "SA4010".
type ConfigData struct {
	Staticcheck []string
}

func main() {
	multichecker.Main(collectAnalyzers(loadEnabledStaticchecks())...)
}

// loadEnabledStaticchecks reads config.json next to the binary. A
// missing file is not an error: it enables every SA analyzer.
func loadEnabledStaticchecks() map[string]bool {
	enabled := map[string]bool{}

	appfile, err := os.Executable()
	if err != nil {
		return enabled
	}

	data, err := os.ReadFile(filepath.Join(filepath.Dir(appfile), Config))
	if err != nil {
		return enabled
	}

	var cfg ConfigData
	if err = json.Unmarshal(data, &cfg); err != nil {
		panic(err)
	}
	for _, name := range cfg.Staticcheck {
		enabled[name] = true
	}

	return enabled
}

func collectAnalyzers(enabledStaticchecks map[string]bool) []*analysis.Analyzer {
	analyzers := []*analysis.Analyzer{
		copylock.Analyzer,    // Checks for copying of locks by value.
		loopclosure.Analyzer, // Detects references to loop variables inside closures.
		lostcancel.Analyzer,  // Finds contexts that are not canceled.
		printf.Analyzer,      // Verifies format strings.
		structtag.Analyzer,   // Checks for incorrect struct field tags.
		unmarshal.Analyzer,   // Detects unused fields in JSON unmarshal targets.
		unreachable.Analyzer, // Detects unreachable code.

		ineffassign.Analyzer, // Detects ineffective assignments.
		nilerr.Analyzer,      // Flags returning nil after an error was created.

		noosexit.Analyzer, // Project-specific: forbids use of os.Exit in main.main.
	}

	for _, v := range staticcheck.Analyzers {
		name := v.Analyzer.Name
		if len(enabledStaticchecks) == 0 {
			if strings.HasPrefix(name, "SA") {
				analyzers = append(analyzers, v.Analyzer)
			}
			continue
		}
		if enabledStaticchecks[name] {
			analyzers = append(analyzers, v.Analyzer)
		}
	}

	return analyzers
}
