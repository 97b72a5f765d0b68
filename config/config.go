// Package config parses the directive-based configuration file (§6): one
// directive per line, `#`-prefixed comments, whitespace-separated tokens,
// no `[section]` headers. Four directives are named: AUTOSAVE,
// MAX_CONNECTED_SWARMS, MAX_UPLOAD_BYTES_PER_SECOND, STORE_DATA_ON_DISK.
// Any other directive is preserved verbatim in Extra rather than rejected,
// since the original configuration format carries more knobs than the
// distilled four lines name.
package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gnomeswarm/datastore/storage"
)

// Config holds a parsed configuration file's values.
type Config struct {
	Autosave                bool
	MaxConnectedSwarms      uint8
	MaxUploadBytesPerSecond uint64
	StoreDataOnDisk         storage.Policy

	// Extra preserves any directive this parser does not itself
	// interpret, keyed by its first whitespace-separated token, valued
	// by the remainder of the line (trimmed). A caller extending the
	// directive set can read its own knobs back out without a parser
	// change here.
	Extra map[string]string
}

// Default returns the configuration original_source/src/config.rs falls
// back to when no config file is present: autosave off, up to 8 connected
// swarms, an 8192 B/s upload cap, and every page of every Content kept on
// disk.
func Default() Config {
	return Config{
		Autosave:                false,
		MaxConnectedSwarms:      8,
		MaxUploadBytesPerSecond: 8192,
		StoreDataOnDisk:         storage.Policy{Kind: storage.Everything},
		Extra:                   map[string]string{},
	}
}

// Parse reads a directive config file from r, starting from Default and
// overriding it with whatever directives are present. An unrecognised
// directive never fails parsing -- it lands in Extra -- but a malformed
// numeric argument to a recognised directive does.
func Parse(r io.Reader) (Config, error) {
	cfg := Default()
	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		directive := fields[0]
		rest := fields[1:]

		switch directive {
		case "AUTOSAVE":
			cfg.Autosave = true
		case "MAX_CONNECTED_SWARMS":
			n, err := directiveUint(rest, lineNum, directive, 8)
			if err != nil {
				return Config{}, err
			}
			cfg.MaxConnectedSwarms = uint8(n)
		case "MAX_UPLOAD_BYTES_PER_SECOND":
			n, err := directiveUint(rest, lineNum, directive, 64)
			if err != nil {
				return Config{}, err
			}
			cfg.MaxUploadBytesPerSecond = n
		case "STORE_DATA_ON_DISK":
			n, err := directiveUint(rest, lineNum, directive, 8)
			if err != nil {
				return Config{}, err
			}
			switch n {
			case 0:
				cfg.StoreDataOnDisk = storage.Policy{Kind: storage.Datastore}
			case 1:
				cfg.StoreDataOnDisk = storage.Policy{Kind: storage.Everything}
			default:
				return Config{}, fmt.Errorf("config: line %d: STORE_DATA_ON_DISK must be 0 or 1, got %d", lineNum, n)
			}
		default:
			cfg.Extra[directive] = strings.Join(rest, " ")
		}
	}
	if err := scanner.Err(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func directiveUint(rest []string, lineNum int, directive string, bitSize int) (uint64, error) {
	if len(rest) == 0 {
		return 0, fmt.Errorf("config: line %d: %s requires a numeric argument", lineNum, directive)
	}
	n, err := strconv.ParseUint(rest[0], 10, bitSize)
	if err != nil {
		return 0, fmt.Errorf("config: line %d: invalid %s value %q: %w", lineNum, directive, rest[0], err)
	}
	return n, nil
}
