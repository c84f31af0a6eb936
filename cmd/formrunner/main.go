package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/clinaudit/formrunner/internal/config"
	"github.com/clinaudit/formrunner/internal/db"
	"github.com/clinaudit/formrunner/internal/export"
	"github.com/clinaudit/formrunner/internal/forms"
	"github.com/clinaudit/formrunner/internal/repository"
	"github.com/clinaudit/formrunner/internal/runner"
)

func main() {
	var (
		appLabelsFlag = flag.String("app-labels", "", "comma separated app labels to revalidate (e.g. meta_subject)")
		modelsFlag    = flag.String("models", "", "comma separated record types to revalidate (e.g. meta_subject.bloodresult)")
		fieldFlag     = flag.String("field", "", "only persist errors on this field (single record type only)")
		panelFlag     = flag.String("panel", "", "only persist errors for records in this panel (single record type only)")
		exportFlag    = flag.Bool("export", false, "write the session's issues to an xlsx report (single record type only)")
		configFlag    = flag.String("config", ".", "directory containing config.yaml")
	)
	flag.Parse()

	ctx := context.Background()

	dbConfig, runConfig, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	conn, err := db.NewConnection(ctx, dbConfig)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer conn.Close()

	if err := db.RunMigrations(ctx, conn.Pool, "./migrations"); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	records := repository.NewRecordRepository(conn.Pool)
	issues := repository.NewIssueRepository(conn.Pool)

	// Baseline registration: a schema-backed form for every stored record
	// type. Consuming modules register richer routines over these.
	schemas, err := records.ListSchemas(ctx)
	if err != nil {
		log.Fatalf("Failed to list record schemas: %v", err)
	}
	for _, schema := range schemas {
		forms.Default.Register(schema.Name, forms.NewSchemaFactory(schema))
	}

	appLabels := splitFlag(*appLabelsFlag)
	modelNames := splitFlag(*modelsFlag)

	opts := []runner.Option{runner.WithVerbose(runConfig.Verbose)}

	if *fieldFlag != "" || *panelFlag != "" || *exportFlag {
		if len(modelNames) != 1 || len(appLabels) != 0 {
			log.Fatalf("-field, -panel and -export require exactly one -models record type")
		}
		binding, ok := forms.FactoryFor(modelNames[0])
		if !ok {
			log.Fatalf("No form registered for record type %q", modelNames[0])
		}

		r := runner.New(binding.Factory, binding.RecordType, records, issues, opts...)
		if err := r.Run(ctx, runner.RunFilter{FieldName: *fieldFlag, PanelName: *panelFlag}); err != nil {
			log.Fatalf("Run failed for %s: %v", binding.RecordType, err)
		}

		if *exportFlag {
			svc := export.NewService(issues, export.WithExportDirectory(runConfig.ExportDir))
			path, err := svc.WriteSession(ctx, r.SessionID())
			if err != nil {
				log.Fatalf("Export failed: %v", err)
			}
			fmt.Printf("Wrote issue report: %s\n", path)
		}
		return
	}

	if err := runner.RunAll(ctx, records, issues, appLabels, modelNames, opts...); err != nil {
		log.Printf("Batch failed: %v", err)
		os.Exit(1)
	}
}

func splitFlag(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	cleaned := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	return cleaned
}
