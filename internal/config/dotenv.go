package config

import (
	"errors"
	"os"

	"github.com/joho/godotenv"
)

// loadDotEnv copies the values of a dotenv file into the process environment.
// A missing file is not an error. Variables that already hold a non-empty
// value keep it.
func loadDotEnv(path string) error {
	values, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	for k, v := range values {
		if os.Getenv(k) != "" {
			continue
		}
		if err := os.Setenv(k, v); err != nil {
			return err
		}
	}
	return nil
}
