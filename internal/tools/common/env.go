package common

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// LoadEnvFile sets variables from a dotenv-style file without overriding
// anything already in the environment. A missing file is not an error.
func LoadEnvFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open env file: %w", err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		value = strings.Trim(value, `"'`)
		if key == "" {
			continue
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, value)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read env file: %w", err)
	}
	return nil
}

// PrintCIResult writes one machine-readable line per detail plus a final
// verdict, for non-interactive pipelines.
func PrintCIResult(ok bool, name string, details []string, err error) {
	for _, d := range details {
		fmt.Printf("detail name=%q msg=%q\n", name, d)
	}
	if ok {
		fmt.Printf("result name=%q status=pass\n", name)
		return
	}
	fmt.Printf("result name=%q status=fail error=%q\n", name, err)
}
