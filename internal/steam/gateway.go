// Package steam adapts the external steamcmd tool for fetching and updating
// game server files. The tool is a black box: a runscript goes in, progress
// lines stream out, and the exit code plus output decide success.
package steam

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"cs2ctl/internal/config"
	"cs2ctl/internal/log"
	"cs2ctl/internal/pubsub"
)

// Sentinel errors for preflight failures.
var (
	// ErrToolNotFound means steamcmd could not be resolved from the config,
	// PATH, or the conventional install locations.
	ErrToolNotFound = errors.New("steamcmd not found")
	// ErrInsufficientDisk means the install dir's filesystem has less free
	// space than the configured threshold.
	ErrInsufficientDisk = errors.New("insufficient disk space")
)

// Conventional steamcmd locations checked after PATH.
var conventionalPaths = []string{
	"/usr/games/steamcmd",
	"/usr/bin/steamcmd",
}

// Gateway invokes steamcmd. Progress lines are published to Events while a
// transfer runs.
type Gateway struct {
	cfg    config.SteamConfig
	Events *pubsub.Broker[string]
}

// NewGateway creates a gateway with a fresh progress broker.
func NewGateway(cfg config.SteamConfig) *Gateway {
	return &Gateway{cfg: cfg, Events: pubsub.NewBroker[string]()}
}

// Install fetches the full game tree into installDir, validating files.
// An interrupted install is resumed by running Install again.
func (g *Gateway) Install(ctx context.Context, installDir string, creds Credentials) error {
	return g.run(ctx, installDir, creds)
}

// Update brings an existing install up to date. Updates always run
// anonymously; the dedicated server depot needs no account.
func (g *Gateway) Update(ctx context.Context, installDir string) error {
	return g.run(ctx, installDir, Credentials{})
}

func (g *Gateway) run(ctx context.Context, installDir string, creds Credentials) error {
	tool, err := g.resolveTool()
	if err != nil {
		return err
	}
	if err := g.preflightDisk(installDir); err != nil {
		return err
	}

	script, err := g.writeRunscript(installDir, creds)
	if err != nil {
		return err
	}
	defer os.Remove(script)

	log.Info(log.CatSteam, "invoking steamcmd",
		"tool", tool, "dir", installDir, "app", g.cfg.AppID, "anonymous", creds.Anonymous())

	// #nosec G204 -- tool path is resolved above, script is tool-generated
	cmd := exec.CommandContext(ctx, tool, "+runscript", script)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting steamcmd: %w", err)
	}

	var output strings.Builder
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		output.WriteString(line)
		output.WriteString("\n")
		g.Events.Publish(pubsub.ProgressEvent, line)
		log.Debug(log.CatSteam, "steamcmd", "line", line)
	}

	waitErr := cmd.Wait()
	if waitErr != nil {
		gerr := classify(output.String())
		log.ErrorErr(log.CatSteam, "steamcmd failed", waitErr, "kind", string(gerr.Kind))
		return gerr
	}
	// steamcmd exits 0 on some login failures; the output is the truth.
	for _, marker := range authMarkers {
		if strings.Contains(output.String(), marker) {
			return classify(output.String())
		}
	}
	log.Info(log.CatSteam, "steamcmd finished", "dir", installDir)
	return nil
}

// resolveTool finds the steamcmd executable: explicit config path first,
// then PATH, then the conventional locations.
func (g *Gateway) resolveTool() (string, error) {
	if g.cfg.SteamCmd != "" {
		if _, err := os.Stat(g.cfg.SteamCmd); err != nil {
			return "", fmt.Errorf("%w: configured path %s", ErrToolNotFound, g.cfg.SteamCmd)
		}
		return g.cfg.SteamCmd, nil
	}
	if path, err := exec.LookPath("steamcmd"); err == nil {
		return path, nil
	}
	home, _ := os.UserHomeDir()
	candidates := append([]string{}, conventionalPaths...)
	if home != "" {
		candidates = append(candidates,
			filepath.Join(home, "steamcmd", "steamcmd.sh"),
			filepath.Join(home, ".steam", "steamcmd", "steamcmd.sh"))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", ErrToolNotFound
}

// preflightDisk fails fast when free space is below the threshold, instead
// of letting a multi-gigabyte transfer die midway.
func (g *Gateway) preflightDisk(installDir string) error {
	if g.cfg.MinDiskGB <= 0 {
		return nil
	}
	probe := installDir
	if _, err := os.Stat(probe); err != nil {
		probe = filepath.Dir(probe)
	}
	var st unix.Statfs_t
	if err := unix.Statfs(probe, &st); err != nil {
		return fmt.Errorf("checking free space on %s: %w", probe, err)
	}
	free := st.Bavail * uint64(st.Bsize) // #nosec G115 -- block size is small and positive
	need := uint64(g.cfg.MinDiskGB) * 1024 * 1024 * 1024
	if free < need {
		return fmt.Errorf("%w: %d GiB free, %d GiB required", ErrInsufficientDisk, free/(1024*1024*1024), g.cfg.MinDiskGB)
	}
	return nil
}

// writeRunscript builds the steamcmd script in a temp file. The caller
// removes it; it holds the password when a login is used.
func (g *Gateway) writeRunscript(installDir string, creds Credentials) (string, error) {
	login := "login anonymous"
	if !creds.Anonymous() {
		login = fmt.Sprintf("login %s %s", creds.Username, creds.Password)
	}
	script := strings.Join([]string{
		"@ShutdownOnFailedCommand 1",
		"@NoPromptForPassword 1",
		"force_install_dir " + installDir,
		login,
		fmt.Sprintf("app_update %d validate", g.cfg.AppID),
		"quit",
		"",
	}, "\n")

	f, err := os.CreateTemp("", "cs2ctl-runscript-*.txt")
	if err != nil {
		return "", fmt.Errorf("creating runscript: %w", err)
	}
	if _, err := f.WriteString(script); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("writing runscript: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("closing runscript: %w", err)
	}
	return f.Name(), nil
}
