package cmds

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/rspd/rspd/pkg/config"
	"github.com/rspd/rspd/pkg/gdbserial"
	"github.com/rspd/rspd/pkg/logflags"
	"github.com/rspd/rspd/pkg/snapshot"
	"github.com/rspd/rspd/pkg/version"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string

	// port is the TCP port the server listens on, on every interface.
	port int
	// addr is the server listen address, it takes precedence over port.
	addr string
	// snapshotPath is the snapshot served to the debugger.
	snapshotPath string
	// arch overrides the architecture of the snapshot.
	arch archValue

	maxThreadIDs        int
	maxTransmitAttempts int
	handshakeTimeout    time.Duration

	// verbose makes the version command print the build information.
	verbose bool

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

const rspdCommandLongDesc = `rspd serves a snapshot of a stopped process to a debugger over the GDB
Remote Serial Protocol.

Start the server and connect to it with gdb:

	rspd serve --snapshot core.yml --port 1234
	gdb -ex 'target remote localhost:1234'

The debugger can read registers and memory, query the stop reason and resume
the snapshot, which then reports the stop event configured in the snapshot.`

// archValue is a pflag.Value accepting the architecture names understood
// by gdbserial.ArchByName.
type archValue struct {
	arch *gdbserial.Arch
}

var _ pflag.Value = (*archValue)(nil)

func (a *archValue) String() string {
	if a.arch == nil {
		return ""
	}
	return a.arch.Name
}

func (a *archValue) Set(s string) error {
	v, err := gdbserial.ArchByName(s)
	if err != nil {
		return err
	}
	a.arch = v
	return nil
}

func (a *archValue) Type() string {
	return "arch"
}

// New returns an initialized command tree.
func New() *cobra.Command {
	// Config setup and load.
	conf = config.LoadConfig()

	// Main rspd root command.
	rootCommand = &cobra.Command{
		Use:           "rspd",
		Short:         "rspd is a GDB remote debugging server for process snapshots.",
		Long:          rspdCommandLongDesc,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable debugging server logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'rspd help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'rspd help log').")

	// 'serve' subcommand.
	serveCommand := &cobra.Command{
		Use:   "serve [--snapshot file]",
		Short: "Serve a snapshot to a debugger.",
		Long: `Listens for one debugger connection and serves the snapshot to it.

Unset flags take their value from the configuration file, ~/.rspd/config.yml.
The server exits when the debugger disconnects or on SIGINT and SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: serveCmd,
	}
	serveCommand.Flags().IntVarP(&port, "port", "p", conf.Port, "TCP port to listen on, on every interface.")
	serveCommand.Flags().StringVarP(&addr, "listen", "l", "", "Listen address, for example 127.0.0.1:1234. Takes precedence over --port.")
	serveCommand.Flags().StringVarP(&snapshotPath, "snapshot", "s", conf.Snapshot, "Snapshot to serve.")
	serveCommand.Flags().Var(&arch, "arch", "Register layout reported to the debugger (amd64 or 386).")
	serveCommand.Flags().IntVar(&maxThreadIDs, "max-thread-ids", conf.MaxThreadIDs, "Maximum number of thread ids in a vCont packet.")
	serveCommand.Flags().IntVar(&maxTransmitAttempts, "max-transmit-attempts", conf.MaxTransmitAttempts, "Number of times a reply is sent before giving up, 0 retries forever.")
	serveCommand.Flags().DurationVar(&handshakeTimeout, "handshake-timeout", conf.HandshakeTimeout, "How long to wait for the debugger to start the session, 0 waits forever.")
	rootCommand.AddCommand(serveCommand)

	// 'version' subcommand.
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "rspd GDB remote server\n%s\n", version.RspdVersion)
			if verbose {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n", version.BuildInfo())
			}
		},
	}
	versionCommand.Flags().BoolVarP(&verbose, "verbose", "v", false, "print verbose version info")
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:

	server		Log session events and rejected packets (default)
	gdbwire		Log every packet and acknowledgment exchanged with the debugger
	snapshot	Log snapshot loading and resumes
	config		Log configuration loading

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.
`,
	})

	rootCommand.DisableAutoGenTag = true

	return rootCommand
}

func serveCmd(cmd *cobra.Command, args []string) error {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		return err
	}
	defer logflags.Close()

	tgt, err := loadTarget(cmd.Flags())
	if err != nil {
		return err
	}
	defer tgt.Close()

	s := gdbserial.NewServer(serverConfig(tgt))
	if addr != "" {
		err = s.Listen(addr)
	} else {
		err = s.Start(port)
	}
	if err != nil {
		return fmt.Errorf("couldn't start listener: %w", err)
	}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, stopSignals...)
	defer signal.Stop(ch)

	return run(s, tgt, os.Stderr, ch)
}

// loadTarget loads the snapshot selected by the flags. The architecture
// comes from --arch, then from the snapshot, then from the configuration.
func loadTarget(flags *pflag.FlagSet) (*snapshot.Target, error) {
	if snapshotPath == "" {
		return nil, errors.New("no snapshot to serve, use --snapshot or set snapshot in the configuration file")
	}
	f, err := snapshot.ReadFile(snapshotPath)
	if err != nil {
		return nil, err
	}
	if f.Arch == "" {
		f.Arch = conf.Arch
	}
	if flags.Changed("arch") {
		f.Arch = arch.arch.Name
	}
	tgt, err := snapshot.New(f, filepath.Dir(snapshotPath))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", snapshotPath, err)
	}
	return tgt, nil
}

func serverConfig(tgt *snapshot.Target) gdbserial.Config {
	return gdbserial.Config{
		Arch:                tgt.Arch(),
		MaxThreadIDs:        maxThreadIDs,
		MaxTransmitAttempts: maxTransmitAttempts,
		HandshakeTimeout:    handshakeTimeout,
	}
}

// run serves exec to the first debugger that connects to s. Receiving on
// stop stops the server.
func run(s *gdbserial.Server, exec gdbserial.Executor, out io.Writer, stop <-chan os.Signal) error {
	fmt.Fprintf(out, "rspd server listening at: %s\n", s.Addr())

	done := make(chan struct{})
	defer close(done)
	stopped := make(chan struct{})
	go func() {
		select {
		case sig := <-stop:
			logflags.ServerLogger().Infof("received %v, stopping", sig)
			close(stopped)
			s.Stop()
		case <-done:
		}
	}()

	defer s.Stop()
	if err := s.Accept(); err != nil {
		select {
		case <-stopped:
			return nil
		default:
		}
		return err
	}
	return s.Serve(exec)
}
