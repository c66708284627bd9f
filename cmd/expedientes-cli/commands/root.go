package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"expedientes-backend/lib/browser"
	"expedientes-backend/lib/configutil"
	"expedientes-backend/lib/restyutil"
	"expedientes-backend/lib/scrapers/mev"
	"expedientes-backend/lib/scrapers/scw"
	"expedientes-backend/lib/serviceutil"
	"expedientes-backend/lib/sqliteutil"
	"expedientes-backend/services/expedientes"
	expdb "expedientes-backend/services/expedientes/db"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

type ScwConfig struct {
	BaseUrl  string `json:"base_url"`
	SsoHost  string `json:"sso_host"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type MevConfig struct {
	BaseUrl     string `json:"base_url"`
	RendererUrl string `json:"renderer_url"`
	Username    string `json:"username"`
	Password    string `json:"password"`
}

type Config struct {
	Scw ScwConfig `json:"scw"`
	Mev MevConfig `json:"mev"`
	Db  string    `json:"db"`
	// when set, every HTTP exchange is dumped under this directory
	DebugDir string `json:"debug_dir"`
}

var rootCmd = &cobra.Command{
	Use:   "expedientes-cli",
	Short: "expedientes-cli follows court cases across the national and provincial portals.",
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() Config {
	cfg, err := configutil.ReadConfig[Config]("expedientes.json5")
	if err != nil {
		serviceutil.Fatal("failed to read expedientes.json5", err)
	}
	if cfg.Db == "" {
		cfg.Db = "expedientes.db"
	}
	return cfg
}

// openService builds the whole stack from the config: portal clients,
// the optional tray client, and the local store.
func openService(cfg Config) (expedientes.Service, func()) {
	scwClient, err := scw.NewClient(scw.ClientOptions{
		BaseUrl: cfg.Scw.BaseUrl,
		SsoHost: cfg.Scw.SsoHost,
		Timeout: time.Second * 45,
	})
	if err != nil {
		serviceutil.Fatal("failed to initialize portal client", err)
	}
	if cfg.DebugDir != "" {
		if err := restyutil.DumpToDir(scwClient.Http, filepath.Join(cfg.DebugDir, "scw")); err != nil {
			serviceutil.Fatal("failed to set up exchange dump", err)
		}
	}

	var mevClient *mev.Client
	if cfg.Mev.BaseUrl != "" {
		mevClient, err = mev.NewClient(mev.ClientOptions{
			BaseUrl:  cfg.Mev.BaseUrl,
			Renderer: browser.NewRemote(cfg.Mev.RendererUrl),
		})
		if err != nil {
			serviceutil.Fatal("failed to initialize tray client", err)
		}
		if cfg.DebugDir != "" {
			if err := restyutil.DumpToDir(mevClient.Http, filepath.Join(cfg.DebugDir, "mev")); err != nil {
				serviceutil.Fatal("failed to set up exchange dump", err)
			}
		}
	}

	database, err := sqliteutil.OpenDB(expdb.Schema, cfg.Db)
	if err != nil {
		serviceutil.Fatal("failed to open database", err)
	}

	service := expedientes.NewService(expedientes.Options{
		Scw:      scwClient,
		Mev:      mevClient,
		Database: database,
	})
	return service, func() { database.Close() }
}

func scwCredentials(cfg Config) expedientes.Credentials {
	return expedientes.Credentials{
		Username: cfg.Scw.Username,
		Password: cfg.Scw.Password,
	}
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	return t
}
