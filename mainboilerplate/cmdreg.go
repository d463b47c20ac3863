package mainboilerplate

import "github.com/jessevdk/go-flags"

// AddCommandFunc adds a sub-command to a parent command.
type AddCommandFunc func(*flags.Command) error

// CommandRegistry collects sub-commands of a program, keyed on the dotted
// path of their parent command (eg "" for top-level commands, or
// "store.remote"). Commands register themselves from init functions, and are
// attached to the parser once it's built.
type CommandRegistry map[string][]AddCommandFunc

// NewCommandRegistry returns an empty CommandRegistry.
func NewCommandRegistry() CommandRegistry {
	return make(CommandRegistry)
}

// AddCommand registers |command| under parent path |parentName|, with
// configuration struct |data|.
func (cr CommandRegistry) AddCommand(parentName, command, shortDescription, longDescription string, data interface{}) {
	cr[parentName] = append(cr[parentName], func(cmd *flags.Command) error {
		_, err := cmd.AddCommand(command, shortDescription, longDescription, data)
		return err
	})
}

// AddCommands attaches the commands registered under |rootName| to
// |rootCmd|, and then recursively attaches commands registered under each
// of their paths.
func (cr CommandRegistry) AddCommands(rootName string, rootCmd *flags.Command) error {
	for _, fn := range cr[rootName] {
		if err := fn(rootCmd); err != nil {
			return err
		}
	}
	for _, cmd := range rootCmd.Commands() {
		var name = cmd.Name
		if rootName != "" {
			name = rootName + "." + name
		}
		if _, ok := cr[name]; !ok {
			continue
		}
		if err := cr.AddCommands(name, cmd); err != nil {
			return err
		}
	}
	return nil
}
