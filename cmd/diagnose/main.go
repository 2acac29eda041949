// Command diagnose checks that the configured credentials, bucket and
// spreadsheet are reachable before the API is deployed.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"

	"youposm/internal/bootstrap"
	"youposm/internal/rows"
	"youposm/internal/shared/config"
)

const probeKey = "diagnose/test-connection.txt"

type options struct {
	writeProbe bool
	timeout    time.Duration
}

func main() {
	var opts options
	flag.BoolVar(&opts.writeProbe, "write-probe", false, "append a TEST row to the row store and remove it again")
	flag.DurationVar(&opts.timeout, "timeout", 30*time.Second, "overall deadline for all checks")
	flag.Parse()

	cfg := config.Load()
	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	if failed := run(ctx, os.Stdout, cfg, opts); failed > 0 {
		fmt.Fprintf(os.Stdout, "\n%d check(s) failed\n", failed)
		os.Exit(1)
	}
	fmt.Fprintln(os.Stdout, "\nall checks passed")
}

type report struct {
	w      io.Writer
	failed int
}

func (r *report) section(title string) {
	fmt.Fprintf(r.w, "\n== %s ==\n", title)
}

func (r *report) ok(format string, args ...any) {
	fmt.Fprintf(r.w, "  [ok]   "+format+"\n", args...)
}

func (r *report) fail(format string, args ...any) {
	r.failed++
	fmt.Fprintf(r.w, "  [FAIL] "+format+"\n", args...)
}

func (r *report) info(format string, args ...any) {
	fmt.Fprintf(r.w, "  [info] "+format+"\n", args...)
}

// run executes every check and returns the number that failed.
func run(ctx context.Context, w io.Writer, cfg config.Config, opts options) int {
	r := &report{w: w}
	checkEnv(r, cfg)
	checkCredentials(ctx, r, cfg)

	app := &bootstrap.App{Config: cfg}
	defer app.Close()
	checkBlobs(ctx, r, app)
	checkRows(ctx, r, app, opts.writeProbe)
	checkRuntime(r)
	return r.failed
}

func checkEnv(r *report, cfg config.Config) {
	r.section("environment")
	r.info("ENV=%s OBJECT_STORE=%s ROW_STORE=%s CACHE_BACKEND=%s", cfg.Env, cfg.ObjectStoreType, cfg.RowStoreType, cfg.CacheBackend)
	for _, key := range []string{"GOOGLE_CLOUD_PROJECT", "GOOGLE_APPLICATION_CREDENTIALS", "GCS_BUCKET_NAME", "SHEET_ID", "S3_BUCKET", "AWS_REGION", "SUBMISSION_QUEUE_URL", "DATABASE_URL", "GOOGLE_CREDENTIALS"} {
		val, set := os.LookupEnv(key)
		switch {
		case !set || val == "":
			r.info("%s not set", key)
		case isSecret(key):
			r.info("%s set (%d chars)", key, len(val))
		default:
			r.info("%s=%s", key, val)
		}
	}
}

func isSecret(key string) bool {
	return key == "GOOGLE_CREDENTIALS" || key == "DATABASE_URL"
}

func needsGoogle(cfg config.Config) bool {
	return cfg.ObjectStoreType == "gcs" || cfg.RowStoreType == "sheets"
}

func checkCredentials(ctx context.Context, r *report, cfg config.Config) {
	r.section("google credentials")
	if !needsGoogle(cfg) {
		r.info("not required for the configured backends")
		return
	}

	creds, err := bootstrap.GoogleCredentials(ctx, cfg.GoogleCredentials, storage.ScopeFullControl, rows.SheetsScope)
	if err != nil {
		r.fail("%v", err)
		return
	}
	if creds.ProjectID != "" {
		r.ok("project_id=%s", creds.ProjectID)
	} else {
		r.info("credentials carry no project_id")
	}

	if strings.TrimSpace(cfg.GoogleCredentials) == "" {
		r.ok("using application default credentials")
		return
	}
	email, err := bootstrap.ServiceAccountEmail(cfg.GoogleCredentials, rows.SheetsScope)
	if err != nil {
		r.info("GOOGLE_CREDENTIALS is not a service account key: %v", err)
		return
	}
	r.ok("client_email=%s", email)
}

type bucketChecker interface {
	Check(ctx context.Context) error
}

func checkBlobs(ctx context.Context, r *report, app *bootstrap.App) {
	r.section("object store (" + app.Config.ObjectStoreType + ")")
	blobs, err := app.OpenBlobStore(ctx)
	if err != nil {
		r.fail("open: %v", err)
		return
	}

	if bc, ok := blobs.(bucketChecker); ok {
		if err := bc.Check(ctx); err != nil {
			r.fail("bucket: %v", err)
			return
		}
		r.ok("bucket reachable")
	}

	payload := "connection test " + time.Now().UTC().Format(time.RFC3339)
	url, err := blobs.Put(ctx, probeKey, bytes.NewBufferString(payload), "text/plain")
	if err != nil {
		r.fail("upload %s: %v", probeKey, err)
		return
	}
	r.ok("uploaded %s -> %s", probeKey, url)

	if err := blobs.Delete(ctx, probeKey); err != nil {
		r.fail("delete %s: %v", probeKey, err)
		return
	}
	r.ok("deleted %s", probeKey)
}

type sheetInspector interface {
	Title(ctx context.Context) (string, error)
	Header(ctx context.Context) ([]string, error)
	ProbeWrite(ctx context.Context, rec rows.Record) error
}

func checkRows(ctx context.Context, r *report, app *bootstrap.App, writeProbe bool) {
	r.section("row store (" + app.Config.RowStoreType + ")")
	rs, err := app.OpenRowStore(ctx)
	if err != nil {
		r.fail("open: %v", err)
		return
	}

	if si, ok := rs.(sheetInspector); ok {
		title, err := si.Title(ctx)
		if err != nil {
			r.fail("spreadsheet: %v", err)
			return
		}
		r.ok("spreadsheet %q", title)

		header, err := si.Header(ctx)
		switch {
		case err != nil:
			r.fail("read header: %v", err)
			return
		case rows.IsHeader(header):
			r.ok("header %v", header)
		default:
			r.info("header row missing or unexpected: %v", header)
		}
	}

	records, err := rs.ReadAll(ctx)
	if err != nil {
		r.fail("read rows: %v", err)
		return
	}
	r.ok("%d record(s)", len(records))

	if !writeProbe {
		r.info("write probe skipped; pass -write-probe to test appends")
		return
	}
	probe := rows.Record{
		Store:       "TEST",
		Employee:    "diagnose",
		Date:        time.Now().Format(rows.DateLayout),
		SubmittedAt: time.Now(),
	}
	if si, ok := rs.(sheetInspector); ok {
		if err := si.ProbeWrite(ctx, probe); err != nil {
			r.fail("write probe: %v", err)
			return
		}
		r.ok("appended and removed a TEST row")
		return
	}
	if err := rs.Append(ctx, probe); err != nil {
		r.fail("write probe: %v", err)
		return
	}
	r.ok("appended a TEST row (remove it manually)")
}

func checkRuntime(r *report) {
	r.section("runtime")
	found := false
	for _, key := range []string{"K_SERVICE", "K_REVISION", "K_CONFIGURATION"} {
		if v := os.Getenv(key); v != "" {
			r.info("%s=%s", key, v)
			found = true
		}
	}
	if !found {
		r.info("not running on Cloud Run")
	}
}
