// Package bootstrap holds process setup shared by the livetranslate binaries.
package bootstrap

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// LoadDotenv loads KEY=VALUE pairs from a dotenv file into the process
// environment. A missing file is not an error and variables already set in
// the environment win.
func LoadDotenv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat env file %q: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %q: %w", path, err)
	}
	return nil
}
