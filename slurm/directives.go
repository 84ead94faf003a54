package slurm

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	flag "github.com/juju/gnuflag"
)

// DirectivePrefix marks sbatch options embedded in a batch file.
const DirectivePrefix = "#SBATCH"

type optionKind int

const (
	stringOption optionKind = iota
	boolOption
)

// Slurm uses Short and Long command line options
// Save both with golang flag
type gnuFlag struct {
	Short string
	Long  string
	Kind  optionKind
	Usage string
}

// sbatch options understood when reading a batch file back. The map key is
// the long option.
var sBatchOptions = func() map[string]gnuFlag {
	opts := map[string]gnuFlag{}
	add := func(short, long string, kind optionKind, usage string) {
		opts[long] = gnuFlag{Short: short, Long: long, Kind: kind, Usage: usage}
	}
	add("a", "array", stringOption, "submit a job array")
	add("A", "account", stringOption, "charge resources to this account")
	add("b", "begin", stringOption, "defer allocation until this time")
	add("C", "constraint", stringOption, "required node features")
	add("c", "cpus-per-task", stringOption, "processors per task")
	add("", "cpus-per-gpu", stringOption, "processors per allocated GPU")
	add("d", "dependency", stringOption, "defer until dependencies are satisfied")
	add("D", "chdir", stringOption, "working directory of the batch script")
	add("e", "error", stringOption, "file for the script's standard error")
	add("", "export", stringOption, "environment variables propagated to the job")
	add("G", "gpus", stringOption, "total number of GPUs")
	add("", "gpus-per-node", stringOption, "GPUs per node")
	add("", "gpus-per-task", stringOption, "GPUs per task")
	add("", "gres", stringOption, "generic consumable resources")
	add("H", "hold", boolOption, "submit in a held state")
	add("J", "job-name", stringOption, "name of the job")
	add("L", "licenses", stringOption, "licenses required by the job")
	add("", "mail-type", stringOption, "events that trigger mail")
	add("", "mail-user", stringOption, "mail recipient")
	add("", "mem", stringOption, "real memory per node")
	add("", "mem-per-cpu", stringOption, "memory per allocated CPU")
	add("", "mem-per-gpu", stringOption, "memory per allocated GPU")
	add("N", "nodes", stringOption, "number of nodes")
	add("n", "ntasks", stringOption, "maximum number of tasks")
	add("", "ntasks-per-node", stringOption, "tasks per node")
	add("", "nice", stringOption, "scheduling priority adjustment")
	add("", "no-requeue", boolOption, "never requeue the job")
	add("o", "output", stringOption, "file for the script's standard output")
	add("", "open-mode", stringOption, "append or truncate output files")
	add("p", "partition", stringOption, "partition to run in")
	add("q", "qos", stringOption, "quality of service")
	add("", "requeue", boolOption, "allow the job to be requeued")
	add("", "reservation", stringOption, "allocate from this reservation")
	add("", "signal", stringOption, "signal sent ahead of the time limit")
	add("t", "time", stringOption, "time limit")
	add("", "time-min", stringOption, "minimum time limit")
	add("", "tmp", stringOption, "minimum temporary disk space")
	add("w", "nodelist", stringOption, "nodes to allocate")
	add("x", "exclude", stringOption, "nodes to exclude")
	add("", "wckey", stringOption, "workload characterization key")
	return opts
}()

// Check if either Long or Short flag is used
func lookupGnuArg(name string) (string, bool) {
	if _, ok := sBatchOptions[name]; ok {
		return name, true
	}
	for k, v := range sBatchOptions {
		if len(v.Short) > 0 && name == v.Short {
			return k, true
		}
	}
	return "", false
}

// BatchDirective is one option read back from a batch file.
type BatchDirective struct {
	Option string `json:"option"`
	Value  string `json:"value"`
}

// BatchScript is a parsed batch file.
type BatchScript struct {
	Shell       string
	Directives  []BatchDirective
	Unsupported []string
	Body        []byte
}

// Directive returns the value of the long option name.
func (b BatchScript) Directive(name string) (string, bool) {
	for _, d := range b.Directives {
		if d.Option == name {
			return d.Value, true
		}
	}
	return "", false
}

// ReadBatchFile parses the #SBATCH header of the batch file at path.
func ReadBatchFile(path string) (BatchScript, error) {
	f, err := os.Open(path)
	if err != nil {
		return BatchScript{}, err
	}
	defer f.Close()
	script, err := ParseBatchScript(f)
	if err != nil {
		return BatchScript{}, fmt.Errorf("%s: %w", path, err)
	}
	return script, nil
}

// ParseBatchScript reads the shebang and the leading #SBATCH lines, which
// sbatch stops honouring at the first command.
func ParseBatchScript(r io.Reader) (BatchScript, error) {
	var shell string
	var args []string
	var body []byte
	scanner := bufio.NewScanner(r)
	first, parsed := true, false
	for scanner.Scan() {
		line := scanner.Text()
		if first {
			first = false
			if strings.HasPrefix(line, "#!") {
				shell = strings.TrimSpace(line[2:])
				continue
			}
		}
		if !parsed {
			trimmed := strings.TrimSpace(line)
			if strings.HasPrefix(trimmed, DirectivePrefix) {
				args = append(args, strings.Fields(trimmed[len(DirectivePrefix):])...)
				continue
			}
			if len(trimmed) == 0 || strings.HasPrefix(trimmed, "#") {
				continue
			}
			parsed = true
		}
		body = append(body, scanner.Bytes()...)
		body = append(body, '\n')
	}
	if err := scanner.Err(); err != nil {
		return BatchScript{}, err
	}
	if len(shell) == 0 {
		shell = "/bin/sh"
	}
	directives, unsupported, err := parseSBatchArgs(args)
	if err != nil {
		return BatchScript{}, err
	}
	return BatchScript{
		Shell:       shell,
		Directives:  directives,
		Unsupported: unsupported,
		Body:        body,
	}, nil
}

func parseSBatchArgs(args []string) ([]BatchDirective, []string, error) {
	flags := flag.NewFlagSet(SBatchName, flag.ContinueOnError)
	flags.SetOutput(io.Discard)

	values := make(map[string]flag.Value)
	for long, opt := range sBatchOptions {
		switch opt.Kind {
		case boolOption:
			v := flags.Bool(long, false, opt.Usage)
			if len(opt.Short) > 0 {
				flags.BoolVar(v, opt.Short, false, opt.Usage)
			}
		default:
			v := flags.String(long, "", opt.Usage)
			if len(opt.Short) > 0 {
				flags.StringVar(v, opt.Short, "", opt.Usage)
			}
		}
	}

	known, order, unsupported := filterSBatchArgs(args)
	if err := flags.Parse(true, known); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", SBatchName, err)
	}
	if flags.NArg() > 0 {
		return nil, nil, fmt.Errorf("%s: unexpected argument %q", SBatchName, flags.Arg(0))
	}
	// Go through set flags
	flags.Visit(func(f *flag.Flag) {
		if key, ok := lookupGnuArg(f.Name); ok {
			values[key] = f.Value
		}
	})
	directives := make([]BatchDirective, 0, len(order))
	for _, long := range order {
		if v, ok := values[long]; ok {
			directives = append(directives, BatchDirective{Option: long, Value: v.String()})
		}
	}
	return directives, unsupported, nil
}

// filterSBatchArgs drops options outside sBatchOptions and records the
// order in which the known ones first appear.
func filterSBatchArgs(args []string) (known, order, unsupported []string) {
	seen := map[string]bool{}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		name, hasValue := optionName(arg)
		if len(name) == 0 {
			known = append(known, arg)
			continue
		}
		long, ok := lookupGnuArg(name)
		takesValue := ok && sBatchOptions[long].Kind == stringOption
		// a separate value follows "-J name" and "--job-name name"
		consumeNext := !hasValue && i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") &&
			(takesValue || !ok)
		if !ok {
			unsupported = append(unsupported, name)
			if consumeNext {
				i++
			}
			continue
		}
		known = append(known, arg)
		if consumeNext && takesValue {
			i++
			known = append(known, args[i])
		}
		if !seen[long] {
			seen[long] = true
			order = append(order, long)
		}
	}
	return known, order, unsupported
}

// optionName returns the bare option name of "--name[=v]" or "-n".
func optionName(arg string) (name string, hasValue bool) {
	switch {
	case strings.HasPrefix(arg, "--"):
		name = arg[2:]
	case strings.HasPrefix(arg, "-") && len(arg) > 1:
		name = arg[1:2]
		return name, len(arg) > 2
	default:
		return "", false
	}
	if i := strings.IndexByte(name, '='); i >= 0 {
		return name[:i], true
	}
	return name, false
}

// ErrNoDirectives is returned by callers that require a directive header.
var ErrNoDirectives = errors.New("no " + DirectivePrefix + " directives")
