package main

import (
	"embed"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

//go:embed assets/harmonygate.service assets/rules.json.sample assets/pre-up.sh assets/post-down.sh
var assets embed.FS

const cfgHome = "/etc/harmonygate"

// installFile pairs an embedded asset with the path it is installed to
// and the permission bits the installed copy should carry.
type installFile struct {
	asset string
	dest  string
	mode  os.FileMode
}

var installFiles = []installFile{
	{"assets/harmonygate.service", "/etc/systemd/system/harmonygate.service", 0o644},
	{"assets/rules.json.sample", cfgHome + "/rules.json", 0o644},
	{"assets/pre-up.sh", cfgHome + "/pre-up.sh", 0o755},
	{"assets/post-down.sh", cfgHome + "/post-down.sh", 0o755},
}

// runInstall writes the bundled systemd unit, sample ruleset, and
// iptables helper scripts to the system directories they belong in. It
// never overwrites an existing file unless --overwrite is given.
func runInstall(args []string) int {
	fs := flag.NewFlagSet("install", flag.ContinueOnError)
	overwrite := fs.Bool("overwrite", false, "overwrite existing files if set")
	if err := fs.Parse(args); err != nil {
		return 255
	}

	exe, err := os.Executable()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to get current executable path:", err)
		return 255
	}

	if _, err := os.Stat(cfgHome); os.IsNotExist(err) {
		fmt.Println("create dir:", cfgHome)
		if err := os.MkdirAll(cfgHome, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "failed to create folder %s: %s\n", cfgHome, err)
			return 255
		}
	}

	for _, f := range installFiles {
		if !*overwrite {
			if _, err := os.Stat(f.dest); err == nil {
				fmt.Println("ignore existing file:", f.dest)
				continue
			}
		}

		data, err := assets.ReadFile(f.asset)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to read embedded asset %s: %s\n", f.asset, err)
			return 255
		}
		if strings.HasSuffix(f.dest, "harmonygate.service") {
			data = []byte(strings.ReplaceAll(string(data), "{{EXEC_PATH}}", exe))
		}

		fmt.Println("write", f.dest)
		if err := os.MkdirAll(filepath.Dir(f.dest), 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "failed to create folder %s: %s\n", filepath.Dir(f.dest), err)
			return 255
		}
		if err := os.WriteFile(f.dest, data, f.mode); err != nil {
			fmt.Fprintf(os.Stderr, "write %s error: %s\n", f.dest, err)
			return 255
		}
	}

	return 0
}
