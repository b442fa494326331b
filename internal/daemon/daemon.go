package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/plfl21/openclaw-meeting-hub/internal/capabilities"
	"github.com/plfl21/openclaw-meeting-hub/internal/coord"
	"github.com/plfl21/openclaw-meeting-hub/internal/httpapi"
	"github.com/plfl21/openclaw-meeting-hub/internal/otel"
	"github.com/plfl21/openclaw-meeting-hub/internal/relay"
	"github.com/plfl21/openclaw-meeting-hub/internal/roster"
	"github.com/plfl21/openclaw-meeting-hub/internal/rpc"
	"github.com/plfl21/openclaw-meeting-hub/internal/store"
	"github.com/plfl21/openclaw-meeting-hub/internal/store/postgres"
)

var errNotRunning = errors.New("meetinghub is not running")

const defaultPort = 3847

// OpenCore opens the configured store and roster and wires a coordination core over them.
// The CLI's data commands use it directly; the daemon serves it.
func OpenCore(opts StartOptions) (*coord.Core, error) {
	var st store.Store
	switch opts.DBDriver {
	case "", "sqlite":
		if opts.Home == "" {
			return nil, errors.New("home is required")
		}
		s, err := store.Open(opts.Home)
		if err != nil {
			return nil, err
		}
		st = s
	case "postgres":
		s, err := postgres.Open(opts.DBURL)
		if err != nil {
			return nil, err
		}
		st = s
	default:
		return nil, fmt.Errorf("unknown db driver %q", opts.DBDriver)
	}

	path := opts.RosterPath
	if path == "" {
		path = roster.Path(opts.Home)
	}
	r, err := roster.Load(path)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	if opts.StrictAgents {
		r.Strict = true
	}
	return coord.New(st, r, coord.Options{}), nil
}

func StartForeground(ctx context.Context, opts StartOptions) error {
	if opts.Home == "" {
		return errors.New("home is required")
	}
	if opts.Port == 0 {
		opts.Port = defaultPort
	}

	files := runFilesFor(opts.Home)
	if err := files.ensureDir(); err != nil {
		return err
	}

	// Singleton lock, released on exit.
	lock, err := acquireLock(files.lock())
	if err != nil {
		return err
	}
	defer lock.release()

	prof, err := startProfiler(opts.PprofAddr)
	if err != nil {
		return fmt.Errorf("pprof: %w", err)
	}
	defer func() { _ = prof.Close() }()

	httpLn, err := listen(opts.Port)
	if err != nil {
		return err
	}
	var grpcLn net.Listener
	if opts.GRPCPort > 0 {
		if grpcLn, err = listen(opts.GRPCPort); err != nil {
			_ = httpLn.Close()
			return err
		}
	}

	core, err := OpenCore(opts)
	if err != nil {
		_ = httpLn.Close()
		if grpcLn != nil {
			_ = grpcLn.Close()
		}
		return err
	}
	defer func() { _ = core.Close() }()

	srvOpts := httpapi.ServerOptions{
		Addr:   httpLn.Addr().String(),
		Dev:    opts.Dev,
		APIKey: opts.APIKey,
	}
	if opts.EnableOtel {
		metricsHandler, err := otel.InitMeterProvider(ctx, "meetinghub")
		if err != nil {
			slog.Warn("otel init failed, using default prometheus handler", "err", err)
		} else {
			srvOpts.MetricsHandler = metricsHandler
			srvOpts.UseOtelHTTP = true
		}
		err = otel.InitMetricsWithQueueDepth(ctx, func(ctx context.Context) (int64, error) {
			n, err := core.Store.CountMessages(ctx, store.MessageQuery{Unacknowledged: true})
			return int64(n), err
		})
		if err != nil {
			slog.Warn("otel instruments init failed", "err", err)
		}
	}
	app, err := httpapi.NewApp(core, srvOpts)
	if err != nil {
		return err
	}

	if len(opts.KafkaBrokers) > 0 {
		rl, err := relay.New(relay.Options{Brokers: opts.KafkaBrokers, Topic: opts.KafkaTopic})
		if err != nil {
			return err
		}
		defer func() { _ = rl.Close() }()
		core.Events.Add("kafka", rl)
		slog.Info("kafka relay enabled", "brokers", strings.Join(opts.KafkaBrokers, ","), "topic", opts.KafkaTopic)
	}
	if opts.SlackWebhookURL != "" {
		reg := capabilities.NewRegistry()
		reg.Register("slack", capabilities.SlackWebhook{WebhookURL: opts.SlackWebhookURL, Username: "meetinghub"})
		core.Events.Add("slack", &capabilities.Escalator{Registry: reg})
	}

	grpcAddr := ""
	if grpcLn != nil {
		grpcAddr = grpcLn.Addr().String()
	}
	if err := files.record(os.Getpid(), httpLn.Addr().String(), grpcAddr); err != nil {
		return err
	}
	defer files.clear()

	slog.Info("daemon starting", "addr", httpLn.Addr().String(), "grpc", opts.GRPCPort, "home", opts.Home)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := app.Server.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	gs, hs := rpc.NewGRPCServer(core.Neuron, slog.Default())
	if grpcLn != nil {
		g.Go(func() error { return gs.Serve(grpcLn) })
	}
	g.Go(func() error {
		<-gctx.Done()
		// SSE streams hold their connections open; end them before Shutdown waits on idle.
		app.Hub.Close()
		hs.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = app.Server.Shutdown(shutdownCtx)
		gs.GracefulStop()
		return nil
	})

	err = g.Wait()
	if err == nil || errors.Is(err, io.EOF) {
		return ctx.Err()
	}
	return err
}

func StartBackground(ctx context.Context, opts StartOptions) (int, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, err
	}

	files := runFilesFor(opts.Home)
	if err := files.ensureDir(); err != nil {
		return 0, err
	}

	// Best-effort: refuse to start if already running.
	if st, _ := Status(ctx, opts.Home); st.Running {
		return 0, fmt.Errorf("meetinghub already running (pid %d)", st.PID)
	}

	stderr, err := os.OpenFile(files.log(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	// Kept open for child lifetime; closing here may break writes on some platforms.

	args := []string{
		"daemon",
		"--home", opts.Home,
		"--port", strconv.Itoa(opts.Port),
		"--grpc-port", strconv.Itoa(opts.GRPCPort),
	}
	if opts.Dev {
		args = append(args, "--dev")
	}
	if opts.PprofAddr != "" {
		args = append(args, "--pprof", opts.PprofAddr)
	}

	// Everything else (db, kafka, slack, api key) reaches the child through the environment.
	cmd := exec.Command(exe, args...)
	cmd.Stdout = io.Discard
	cmd.Stderr = stderr
	detach(cmd)

	if err := cmd.Start(); err != nil {
		return 0, err
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st, _ := Status(ctx, opts.Home); st.Running {
			return st.PID, nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return cmd.Process.Pid, nil
}

func Stop(ctx context.Context, home string) (bool, error) {
	st, err := Status(ctx, home)
	if err != nil {
		return false, err
	}
	if !st.Running {
		return false, nil
	}

	proc, err := os.FindProcess(st.PID)
	if err != nil {
		return false, errNotRunning
	}
	if err := terminate(proc); err != nil {
		return false, err
	}

	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		if st2, _ := Status(ctx, home); !st2.Running {
			return true, nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	_ = proc.Kill()
	return true, nil
}

func Status(ctx context.Context, home string) (StatusInfo, error) {
	files := runFilesFor(home)
	pid, err := files.recordedPID()
	if err != nil {
		return StatusInfo{Running: false}, nil
	}
	info := StatusInfo{Running: true, PID: pid, Addr: "unknown"}
	httpAddr, grpcAddr := files.recordedAddrs()
	if httpAddr != "" {
		info.Addr = httpAddr
	}
	info.GRPCAddr = grpcAddr
	return info, nil
}

func listen(port int) (net.Listener, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", port))
	if err != nil {
		return nil, fmt.Errorf("port %d is already in use", port)
	}
	return ln, nil
}
