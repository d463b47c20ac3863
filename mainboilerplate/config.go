package mainboilerplate

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jessevdk/go-flags"
)

// Version and BuildDate of the program, set at link time.
var (
	Version   = "development"
	BuildDate = "unknown"
)

// ConfigRootEnv names an environment variable of a directory which is also
// searched for the INI configuration file.
const ConfigRootEnv = "BRKMON_CONFIG_ROOT"

// ConfigSearchPaths returns candidate paths of INI file |configName|, in
// order of preference:
//   - The current working directory.
//   - ~/.config/brkmon (under the user's $HOME or %UserProfile% directory).
//   - $BRKMON_CONFIG_ROOT, if set.
func ConfigSearchPaths(configName string) []string {
	var dirs = []string{
		".",
		filepath.Join(os.Getenv("HOME"), ".config", "brkmon"),
		filepath.Join(os.Getenv("UserProfile"), ".config", "brkmon"),
	}
	if root := os.Getenv(ConfigRootEnv); root != "" {
		dirs = append(dirs, root)
	}
	var out = make([]string, len(dirs))
	for i, dir := range dirs {
		out[i] = filepath.Join(dir, configName)
	}
	return out
}

// MustParseConfig requires that the Parser parse from the combination of the
// first INI file found among ConfigSearchPaths, environment bindings, and
// explicit flags, in increasing order of precedence.
func MustParseConfig(parser *flags.Parser, configName string) {
	if err := ParseINI(parser, ConfigSearchPaths(configName)); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	MustParseArgs(parser)
}

// ParseINI parses the first of |paths| which exists into the Parser.
// Unknown options of the INI file are ignored, as a file may be shared by
// several programs.
func ParseINI(parser *flags.Parser, paths []string) error {
	var origOptions = parser.Options
	parser.Options |= flags.IgnoreUnknown
	defer func() { parser.Options = origOptions }()

	var ini = flags.NewIniParser(parser)
	for _, path := range paths {
		if err := ini.ParseFile(path); err == nil {
			return nil
		} else if !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// MustParseArgs requires that Parser be able to ParseArgs without error.
func MustParseArgs(parser *flags.Parser) {
	if _, err := parser.ParseArgs(os.Args[1:]); err != nil {
		var flagErr, ok = err.(*flags.Error)
		if !ok {
			Must(err, "fatal error")
		}

		switch flagErr.Type {
		case flags.ErrDuplicatedFlag, flags.ErrTag, flags.ErrInvalidTag, flags.ErrShortNameTooLong, flags.ErrMarshal:
			// A problem of the configuration struct itself, rather than of input.
			panic(err)

		case flags.ErrCommandRequired:
			os.Stderr.WriteString("\n")
			parser.WriteHelp(os.Stderr)
			fmt.Fprintf(os.Stderr, "\nVersion %s, built at %s.\n", Version, BuildDate)
			os.Exit(1)

		case flags.ErrHelp:
			if parser.Options&flags.PrintErrors == 0 {
				parser.WriteHelp(os.Stderr)
				fmt.Fprintf(os.Stderr, "\nVersion %s, built at %s.\n", Version, BuildDate)
			}
			os.Exit(0)

		default:
			// go-flags has already printed the input error.
			os.Exit(1)
		}
	}
}

// AddPrintConfigCmd to the Parser. The "print-config" command writes the
// combined configuration of the INI file, environment, and flags to stdout,
// in INI format.
func AddPrintConfigCmd(parser *flags.Parser, configName string) {
	_, err := parser.AddCommand("print-config", "Print combined configuration and exit", `
print-config parses the combined configuration from `+configName+`, flags,
and environment variables, and then writes the configuration to stdout in INI format.
`, &printConfig{parser})
	Must(err, "failed to add print-config command")
}

type printConfig struct {
	*flags.Parser `no-flag:"t"`
}

func (p printConfig) Execute([]string) error {
	var ini = flags.NewIniParser(p.Parser)
	ini.Write(os.Stdout, flags.IniIncludeComments|flags.IniCommentDefaults|flags.IniIncludeDefaults)
	return nil
}
