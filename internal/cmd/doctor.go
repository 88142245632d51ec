package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/aws/aws-sdk-go-v2/config"
	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	tomdconfig "github.com/3leaps/tomd/internal/config"
	"github.com/3leaps/tomd/internal/observability"
	"github.com/3leaps/tomd/pkg/batch"
)

var (
	doctorProvider string
	doctorEndpoint string
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the system and suggest fixes for common issues.

Examples:
  tomd doctor                                        # Environment check
  tomd doctor --endpoint http://localhost:9000/convert  # Also probe a conversion service
  tomd doctor --provider s3                          # Also check AWS credentials`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().StringVar(&doctorProvider, "provider", "", "Run provider-specific checks (s3)")
	doctorCmd.Flags().StringVar(&doctorEndpoint, "endpoint", "", "Conversion service to probe (default from config for --backend http)")
}

// doctorRun tracks check numbering and the first failure.
type doctorRun struct {
	num, total int
	failCode   int
}

func (d *doctorRun) next() int {
	d.num++
	return d.num
}

func (d *doctorRun) fail(code int) {
	if d.failCode == 0 {
		d.failCode = code
	}
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	log := observability.CLILogger

	endpoint := doctorEndpoint
	if endpoint == "" {
		if cfg, err := tomdconfig.Load(ctx, cfgFile); err == nil && cfg.Convert.Backend == tomdconfig.BackendHTTP {
			endpoint = cfg.Convert.Endpoint
		}
	}

	d := &doctorRun{total: 4}
	if endpoint != "" {
		d.total++
	}
	if doctorProvider == "s3" {
		d.total += 2
	}

	log.Info("=== " + appName + " doctor ===")
	log.Info("")
	log.Info("Running diagnostic checks...")
	log.Info("")

	// Go runtime
	goVersion := runtime.Version()
	log.Info(fmt.Sprintf("[%d/%d] Checking Go runtime... ✅ %s", d.next(), d.total, goVersion),
		zap.String("go_version", goVersion))

	// Gofulmen
	version := crucible.GetVersion()
	if version.Gofulmen != "" {
		log.Info(fmt.Sprintf("[%d/%d] Checking Gofulmen access... ✅ v%s", d.next(), d.total, version.Gofulmen),
			zap.String("gofulmen_version", version.Gofulmen))
	} else {
		log.Warn(fmt.Sprintf("[%d/%d] Checking Gofulmen access... ⚠️  version unknown", d.next(), d.total))
	}

	// App data directory, which holds state for s3:// targets
	dataDir := gfconfig.GetAppDataDir(batch.AppName)
	if err := checkWritable(dataDir); err != nil {
		log.Error(fmt.Sprintf("[%d/%d] Checking data directory... ❌ %s is not writable", d.next(), d.total, dataDir),
			zap.Error(err))
		d.fail(foundry.ExitFileWriteError)
	} else {
		log.Info(fmt.Sprintf("[%d/%d] Checking data directory... ✅ %s", d.next(), d.total, dataDir),
			zap.String("data_dir", dataDir))
	}

	// Environment
	log.Info(fmt.Sprintf("[%d/%d] Checking environment... ✅ %s/%s, %d CPUs", d.next(), d.total, runtime.GOOS, runtime.GOARCH, runtime.NumCPU()),
		zap.String("os", runtime.GOOS),
		zap.String("arch", runtime.GOARCH))

	if endpoint != "" {
		runBackendCheck(ctx, d, endpoint)
	}

	if doctorProvider == "s3" {
		runS3Checks(ctx, d)
	}

	log.Info("")
	if d.failCode == 0 {
		log.Info(fmt.Sprintf("✅ All checks passed! Your %s installation is healthy.", appName))
	} else {
		log.Warn("⚠️  Some checks failed. Review the output above for details.")
	}
	log.Info("")
	log.Info("=== End Diagnostics ===")

	if d.failCode != 0 {
		return quietExit(d.failCode)
	}
	return nil
}

// checkWritable creates dir if needed and writes a probe file into it.
func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(filepath.Clean(name))
}

// runBackendCheck probes the conversion service.
func runBackendCheck(ctx context.Context, d *doctorRun, endpoint string) {
	log := observability.CLILogger
	h, err := newHTTPAdapter(&tomdconfig.Config{Convert: tomdconfig.ConvertConfig{Endpoint: endpoint}})
	if err == nil {
		err = h.Ping(ctx)
	}
	if err != nil {
		log.Error(fmt.Sprintf("[%d/%d] Checking conversion service... ❌ %s", d.next(), d.total, endpoint),
			zap.Error(err))
		d.fail(foundry.ExitExternalServiceUnavailable)
		return
	}
	log.Info(fmt.Sprintf("[%d/%d] Checking conversion service... ✅ %s", d.next(), d.total, endpoint),
		zap.String("endpoint", endpoint))
}

// runS3Checks runs S3-specific diagnostic checks.
func runS3Checks(ctx context.Context, d *doctorRun) {
	log := observability.CLILogger
	log.Info("")
	log.Info("S3 Target Checks:")

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		log.Error(fmt.Sprintf("[%d/%d] Checking AWS credentials... ❌ Cannot load AWS config", d.next(), d.total),
			zap.Error(err))
		printAWSCredentialsHelp()
		d.fail(foundry.ExitExternalServiceUnavailable)
		return
	}

	creds, err := cfg.Credentials.Retrieve(ctx)
	if err != nil {
		log.Error(fmt.Sprintf("[%d/%d] Checking AWS credentials... ❌ Cannot retrieve credentials", d.next(), d.total),
			zap.Error(err))
		printAWSCredentialsHelp()
		d.fail(foundry.ExitExternalServiceUnavailable)
		return
	}

	log.Info(fmt.Sprintf("[%d/%d] Checking AWS credentials... ✅ Found credentials", d.next(), d.total),
		zap.String("access_key", maskAccessKey(creds.AccessKeyID)),
		zap.String("source", creds.Source))

	source := creds.Source
	if source == "" {
		source = "unknown"
	}
	region := cfg.Region
	if region == "" {
		region = "unset (pass --s3-region to convert)"
	}
	log.Info(fmt.Sprintf("[%d/%d] Checking credential source... ✅ %s, region %s", d.next(), d.total, source, region),
		zap.String("credential_source", source),
		zap.String("region", cfg.Region))
}

// maskAccessKey masks all but the last 4 characters of an access key.
func maskAccessKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

// printAWSCredentialsHelp prints help for configuring AWS credentials.
func printAWSCredentialsHelp() {
	log := observability.CLILogger
	log.Info("")
	log.Info("To configure AWS credentials:")
	log.Info("  1. Set AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY environment variables, or")
	log.Info("  2. Run 'aws configure' to set up a profile and pass --s3-profile, or")
	log.Info("  3. Use an IAM role when running on AWS infrastructure")
	log.Info("")
	log.Info("For S3-compatible storage (MinIO, Wasabi, etc.), also pass --s3-endpoint")
	log.Info("and usually --s3-path-style to convert.")
	log.Info("")
}
