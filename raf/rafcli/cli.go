// Package rafcli builds the raf command line application.
package rafcli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	applog "github.com/CMSgov/raf-app/log"
	"github.com/CMSgov/raf-app/raf/constants"
	"github.com/CMSgov/raf-app/raf/extractor"
	"github.com/CMSgov/raf-app/raf/models"
	"github.com/CMSgov/raf-app/raf/monitoring"
	"github.com/CMSgov/raf-app/raf/pipeline"
	"github.com/CMSgov/raf-app/raf/tables"
	"github.com/CMSgov/raf-app/raf/web"
)

// App Name and usage.  Edit them here to prevent breaking tests
const Name = "raf"
const Usage = "CMS-HCC Risk Adjustment Factor CLI"

func GetApp() *cli.App {
	return setUpApp(os.Stdout)
}

func setUpApp(out io.Writer) *cli.App {
	app := cli.NewApp()
	app.Name = Name
	app.Usage = Usage
	app.Version = constants.Version
	var model, sex, dual, dxList, inputPath, tablesPath, port string
	var age int
	var origDisabled, newEnrollee, filterClaims, pretty bool
	app.Commands = []cli.Command{
		{
			Name:  "score",
			Usage: "Compute a RAF score for one beneficiary",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "model", Usage: "Model variant (V22, V24, V28, ESRD_V21, ESRD_V24, RxHCC_V08)", Value: "V28", Destination: &model},
				cli.IntFlag{Name: "age", Usage: "Beneficiary age in years", Destination: &age},
				cli.StringFlag{Name: "sex", Usage: "Beneficiary sex (M or F)", Destination: &sex},
				cli.StringFlag{Name: "dual", Usage: "Dual eligibility code (00, 01, 02)", Value: "00", Destination: &dual},
				cli.BoolFlag{Name: "orig-disabled", Usage: "Originally entitled by disability", Destination: &origDisabled},
				cli.BoolFlag{Name: "new-enrollee", Usage: "Fewer than 12 months of enrollment", Destination: &newEnrollee},
				cli.StringFlag{Name: "dx", Usage: "Comma-separated diagnosis codes", Destination: &dxList},
				cli.StringFlag{Name: "input", Usage: "Claim file to score (837 envelope or FHIR EOB JSON)", Destination: &inputPath},
				cli.StringFlag{Name: "tables", Usage: "Reference table directory (default: embedded samples)", Destination: &tablesPath},
				cli.BoolTFlag{Name: "filter", Usage: "Apply the claim eligibility filter", Destination: &filterClaims},
				cli.BoolFlag{Name: "pretty", Usage: "Indent the result JSON", Destination: &pretty},
			},
			Action: func(c *cli.Context) error {
				variant, err := models.ParseModelVariant(model)
				if err != nil {
					return err
				}

				opts := pipeline.DefaultOptions()
				opts.FilterClaims = filterClaims
				if tablesPath != "" {
					opts.TablesPath = tablesPath
				}
				p, err := pipeline.New(opts, applog.Worker)
				if err != nil {
					return err
				}

				demo := models.Demographics{
					Age:             age,
					Sex:             sex,
					DualEligibility: dual,
					OrigDisabled:    origDisabled,
					NewEnrollee:     newEnrollee,
				}

				ctx, done := timedContext()
				defer done()

				var result *models.RAFResult
				if inputPath != "" {
					raw, err := os.ReadFile(filepath.Clean(inputPath))
					if err != nil {
						return err
					}
					result, err = p.Run(ctx, []string{string(raw)}, demo, variant)
					if err != nil {
						return err
					}
				} else {
					result, err = p.CalculateFromDiagnoses(ctx, splitList(dxList), demo, variant)
					if err != nil {
						return err
					}
				}

				return printJSON(out, result, pretty)
			},
		},
		{
			Name:  "parse-837",
			Usage: "Extract service records from an 837 claim file",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "input", Usage: "Path to the 837 envelope", Destination: &inputPath},
				cli.BoolFlag{Name: "pretty", Usage: "Indent the output JSON", Destination: &pretty},
			},
			Action: func(c *cli.Context) error {
				raw, err := os.ReadFile(filepath.Clean(inputPath))
				if err != nil {
					return err
				}
				records, err := extractor.ExtractServiceRecords(string(raw), applog.Worker)
				if err != nil {
					return err
				}
				return printJSON(out, records, pretty)
			},
		},
		{
			Name:  "validate-tables",
			Usage: "Load a reference table set and report configuration errors",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "path", Usage: "Reference table directory (default: embedded samples)", Destination: &tablesPath},
			},
			Action: func(c *cli.Context) error {
				store, err := tables.LoadStore(tables.Config{Path: tablesPath, Logger: applog.Worker})
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "reference tables for year %s loaded OK\n", store.Year())
				return nil
			},
		},
		{
			Name:  "serve",
			Usage: "Start the scoring API",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "port", Usage: "Port to listen on", Value: "3000", Destination: &port},
			},
			Action: func(c *cli.Context) error {
				// Fail fast on table problems before accepting traffic.
				if _, err := tables.Sample(); err != nil {
					return err
				}
				srv := &http.Server{
					Handler:      web.NewRouter(),
					Addr:         ":" + port,
					ReadTimeout:  10 * time.Second,
					WriteTimeout: 30 * time.Second,
				}
				log.Infof("Starting raf API on port %s", port)
				return srv.ListenAndServe()
			},
		},
	}
	return app
}

// timedContext wires a monitoring timer into a fresh context so pipeline
// stages report spans when an agent is configured.
func timedContext() (context.Context, func()) {
	timer := monitoring.GetTimer()
	ctx := monitoring.NewContext(context.Background(), timer)
	ctx, closeParent := monitoring.NewParent(ctx, "cli-score")
	return ctx, func() {
		closeParent()
		timer.Close()
	}
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func printJSON(out io.Writer, v interface{}, pretty bool) error {
	enc := json.NewEncoder(out)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}
