package main

import (
	"context"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/spf13/afero"
	"github.com/tesouraria/brkmon/billstore"
	"github.com/tesouraria/brkmon/credentials"
	"github.com/tesouraria/brkmon/locations"
	mbp "github.com/tesouraria/brkmon/mainboilerplate"
	"github.com/tesouraria/brkmon/notify"
	"github.com/tesouraria/brkmon/stores"
	"github.com/tesouraria/brkmon/stores/azure"
	"github.com/tesouraria/brkmon/stores/fs"
	"github.com/tesouraria/brkmon/stores/gcs"
	"github.com/tesouraria/brkmon/stores/graph"
	"github.com/tesouraria/brkmon/stores/s3"
)

const iniFilename = "brkmon.ini"

// storeConfig configures the bill store and its remote mirror.
type storeConfig struct {
	Remote          string        `long:"remote" env:"REMOTE" description:"Remote folder of the database, eg graph://me/Faturas/, s3://bucket/brk/ or file:///brk/. If empty, only the local fallback database is used"`
	FileName        string        `long:"file-name" env:"FILE_NAME" default:"faturas_brk.db" description:"Name of the remote database object. A .gz, .sz or .zst extension compresses it"`
	CacheDir        string        `long:"cache-dir" env:"CACHE_DIR" description:"Directory of temporary working copies of the database. Defaults to the system temporary directory"`
	FallbackPath    string        `long:"fallback-path" env:"FALLBACK_PATH" default:"brkmon-local/faturas_brk.db" description:"Permanent local database, used when the remote is unavailable"`
	FileRoot        string        `long:"file-root" env:"FILE_ROOT" default:"/" description:"Local directory which roots file:// remotes"`
	Cooldown        time.Duration `long:"cooldown" env:"COOLDOWN" default:"1h" description:"Minimum interval between pushes of the database to the remote"`
	RetryInterval   time.Duration `long:"retry-interval" env:"RETRY_INTERVAL" default:"1m" description:"Minimum interval between a failed push and the next attempt. Zero retries on the next write"`
	UploadTimeout   time.Duration `long:"upload-timeout" env:"UPLOAD_TIMEOUT" default:"120s" description:"Timeout of pushes to the remote"`
	DownloadTimeout time.Duration `long:"download-timeout" env:"DOWNLOAD_TIMEOUT" default:"60s" description:"Timeout of the initial download from the remote"`
}

func (cfg storeConfig) billstoreConfig() billstore.Config {
	return billstore.Config{
		FileName:        cfg.FileName,
		CacheDir:        cfg.CacheDir,
		FallbackPath:    cfg.FallbackPath,
		Cooldown:        cfg.Cooldown,
		RetryInterval:   cfg.RetryInterval,
		UploadTimeout:   cfg.UploadTimeout,
		DownloadTimeout: cfg.DownloadTimeout,
	}
}

// authConfig configures credentials of graph:// remotes.
type authConfig struct {
	Token        string   `long:"token" env:"TOKEN" description:"Static bearer token. Ignored if a client ID is set"`
	ClientID     string   `long:"client-id" env:"CLIENT_ID" description:"OAuth client (application) ID"`
	ClientSecret string   `long:"client-secret" env:"CLIENT_SECRET" description:"OAuth client secret"`
	Tenant       string   `long:"tenant" env:"TENANT" default:"common" description:"Microsoft identity platform tenant"`
	Scopes       []string `long:"scope" env:"SCOPES" env-delim:"," default:"Files.ReadWrite" default:"offline_access" description:"OAuth scopes"`
	TokenFile    string   `long:"token-file" env:"TOKEN_FILE" default:"brkmon-local/token.json" description:"File holding the current OAuth token. Its refresh token is provisioned out of band"`
}

func (cfg authConfig) provider() (credentials.Provider, error) {
	if cfg.ClientID == "" {
		return credentials.Static{Token: cfg.Token}, nil
	}
	return credentials.NewOAuth(credentials.OAuthConfig{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Tenant:       cfg.Tenant,
		Scopes:       cfg.Scopes,
		TokenFile:    cfg.TokenFile,
	})
}

type ingestConfig struct {
	SpoolDir   string        `long:"spool-dir" env:"SPOOL_DIR" default:"spool" description:"Directory of bill documents awaiting ingestion"`
	Extensions []string      `long:"ext" env:"EXTENSIONS" env-delim:"," default:".pdf" description:"Extensions of bill documents"`
	Interval   time.Duration `long:"interval" env:"INTERVAL" default:"5m" description:"Interval between polls of the spool directory"`
	Locations  string        `long:"locations" env:"LOCATIONS" description:"YAML registry of monitored locations"`
}

type notifyConfig struct {
	TelegramToken string `long:"telegram-token" env:"TELEGRAM_TOKEN" description:"Telegram bot token"`
	DryRun        bool   `long:"dry-run" env:"DRY_RUN" description:"Log notifications rather than sending them"`
}

type reportConfig struct {
	Root      string `long:"root" env:"ROOT" description:"Remote folder of published reports, eg graph://me/Tesouraria/"`
	Subfolder string `long:"subfolder" env:"SUBFOLDER" default:"Relatorios BRK" description:"Subfolder of the root holding year/month report folders"`
}

// Config is the top-level configuration of brkmon.
var Config = new(struct {
	Store       storeConfig           `group:"Store" namespace:"store" env-namespace:"STORE"`
	Auth        authConfig            `group:"Auth" namespace:"auth" env-namespace:"AUTH"`
	Ingest      ingestConfig          `group:"Ingest" namespace:"ingest" env-namespace:"INGEST"`
	Notify      notifyConfig          `group:"Notify" namespace:"notify" env-namespace:"NOTIFY"`
	Report      reportConfig          `group:"Report" namespace:"report" env-namespace:"REPORT"`
	Log         mbp.LogConfig         `group:"Logging" namespace:"log" env-namespace:"LOG"`
	Diagnostics mbp.DiagnosticsConfig `group:"Debug" namespace:"debug" env-namespace:"DEBUG"`
})

// commands of brkmon, which register themselves from init functions.
var commands = mbp.NewCommandRegistry()

func main() {
	var parser = flags.NewParser(Config, flags.Default)
	parser.EnvNamespace = "BRKMON"

	parser.LongDescription = `brkmon records BRK water bills of monitored locations in a SQLite
database which is mirrored to a remote object store.

See --help pages of each sub-command for documentation and usage examples.
Optionally configure brkmon with a '` + iniFilename + `' file in the current working directory,
or with '~/.config/brkmon/` + iniFilename + `'. Use the 'print-config' sub-command to inspect
the current configuration.
`
	mbp.AddPrintConfigCmd(parser, iniFilename)
	mbp.Must(commands.AddCommands("", parser.Command), "failed to add commands")

	mbp.MustParseConfig(parser, iniFilename)
}

// startup initializes logging and store providers, and returns the
// credentials of graph:// stores.
func startup() credentials.Provider {
	mbp.InitLog(Config.Log)

	var creds, err = Config.Auth.provider()
	mbp.Must(err, "failed to initialize credentials")

	if Config.Store.Remote != "" {
		mbp.Must(stores.Endpoint(Config.Store.Remote).Validate(), "invalid remote", "remote", Config.Store.Remote)
	}
	fs.FileSystemStoreRoot = Config.Store.FileRoot

	stores.RegisterProviders(map[string]stores.Constructor{
		"file":     fs.New,
		"s3":       s3.New,
		"gs":       gcs.New,
		"azure":    azure.NewAccount,
		"azure-ad": azure.NewAD,
		"graph":    graph.NewConstructor(creds),
	})
	return creds
}

// openStore opens the bill store of the process. The returned Provider
// must be closed, which pushes unsynced changes.
func openStore(ctx context.Context, creds credentials.Provider) (*billstore.Provider, *billstore.Store) {
	var provider = billstore.NewProvider(Config.Store.billstoreConfig(), new(stores.Client))

	var store, err = provider.Acquire(ctx, creds, stores.Endpoint(Config.Store.Remote))
	mbp.Must(err, "failed to open bill store")

	return provider, store
}

// loadLocations loads the configured locations registry, which may be nil.
func loadLocations(required bool) *locations.Registry {
	if Config.Ingest.Locations == "" {
		if required {
			mbp.Must(errUnconfiguredLocations, "a locations registry is required")
		}
		return nil
	}
	var reg, err = locations.Load(afero.NewOsFs(), Config.Ingest.Locations)
	mbp.Must(err, "failed to load locations", "path", Config.Ingest.Locations)
	return reg
}

func notifier() notify.Notifier {
	if Config.Notify.DryRun || Config.Notify.TelegramToken == "" {
		return notify.Log{}
	}
	return &notify.Telegram{Token: Config.Notify.TelegramToken}
}
