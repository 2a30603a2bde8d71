package extension

import (
	"context"
	"fmt"
	"os"

	"github.com/tetratelabs/wazero"
)

// FunctionEntrypoints are the exports a built function may use as its entry.
var FunctionEntrypoints = []string{"run", "_start"}

// ValidateWasm compiles the module at path and checks it exports a function
// entrypoint. Nothing is instantiated.
func ValidateWasm(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read wasm module: %w", err)
	}

	r := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithCloseOnContextDone(true))
	defer func() { _ = r.Close(ctx) }()

	compiled, err := r.CompileModule(ctx, data)
	if err != nil {
		return fmt.Errorf("invalid wasm module %s: %w", path, err)
	}
	defer func() { _ = compiled.Close(ctx) }()

	exports := compiled.ExportedFunctions()
	for _, name := range FunctionEntrypoints {
		if _, ok := exports[name]; ok {
			return nil
		}
	}
	return fmt.Errorf("wasm module %s exports none of %v", path, FunctionEntrypoints)
}
