package main

/* crawl reads EO metadata documents and turns them into the records
   served by eows. Records are either printed as JSON lines, as a YAML
   records list ready to be pasted in a config.yaml, or written to the
   Postgres metadata store. */

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/nci/eows/coverages"
	"github.com/nci/eows/mas"
	"github.com/nci/eows/utils"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"
)

type crawlOptions struct {
	family        string
	pattern       string
	filter        string
	series        string
	conc          int
	followSymlink bool
	outputFormat  string
	dsn           string
	createSchema  bool
	skipCheck     bool
	verbose       bool
}

func newRootCmd() *cobra.Command {
	opts := &crawlOptions{}

	cmd := &cobra.Command{
		Use:   "crawl [flags] path...",
		Short: "Load EO metadata documents into eows records",
		Long: "Walks the given files and directories, reads the metadata documents accepted " +
			"by --pattern and outputs the records accepted by --filter.",
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			level := "info"
			if opts.verbose {
				level = "debug"
			}
			log := utils.NewLogger(utils.LogConfig{Level: level, Console: true, Component: "crawl"}, cmd.ErrOrStderr())
			return runCrawl(cmd.Context(), opts, args, cmd.OutOrStdout(), log)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.family, "family", FamilyRecord, "metadata document family: record, sentinel2 or landsat")
	f.StringVar(&opts.pattern, "pattern", "type == 'd' || path =~ '[.]ya?ml$'", "file selection expression over path and type")
	f.StringVar(&opts.filter, "filter", "", "record selection expression, e.g. \"srid == 4326 && band == 'nbart_red'\"")
	f.StringVar(&opts.series, "series", "", "also output a dataset series of the crawled datasets, one per band for band families")
	f.IntVar(&opts.conc, "conc", 8, "number of concurrent directory readers")
	f.BoolVar(&opts.followSymlink, "follow-symlink", false, "follow symbolic links")
	f.StringVar(&opts.outputFormat, "format", "json", "output format when no --dsn is given: json or yaml")
	f.StringVar(&opts.dsn, "dsn", "", "postgres connection string of the metadata store")
	f.BoolVar(&opts.createSchema, "create-schema", false, "create the metadata store table before loading")
	f.BoolVar(&opts.skipCheck, "skip-check", false, "do not check that the records resolve, e.g. for members already in the store")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "log every file read")
	return cmd
}

func runCrawl(ctx context.Context, opts *crawlOptions, roots []string, out io.Writer, log zerolog.Logger) error {
	if opts.outputFormat != "json" && opts.outputFormat != "yaml" {
		return fmt.Errorf("unsupported output format: %s", opts.outputFormat)
	}
	pattern, err := parsePatternExpression(opts.pattern)
	if err != nil {
		return fmt.Errorf("pattern expression: %v", err)
	}
	filter, err := newRecordFilter(opts.filter)
	if err != nil {
		return err
	}

	datasets, err := crawlDatasets(roots, opts.family, newPosixCrawler(opts.conc, pattern, opts.followSymlink), filter, log)
	if err != nil {
		return err
	}

	records := make([]coverages.Record, 0, len(datasets))
	for _, d := range datasets {
		records = append(records, d.Record)
	}
	if len(opts.series) > 0 {
		records = append(records, seriesRecords(opts.series, datasets)...)
	}

	if !opts.skipCheck {
		if _, err := coverages.Resolve(records); err != nil {
			return fmt.Errorf("invalid records: %v", err)
		}
	}
	log.Info().Int("records", len(records)).Msg("crawl done")

	if len(opts.dsn) > 0 {
		return storeRecords(ctx, opts, records)
	}
	return writeRecords(out, opts.outputFormat, records)
}

// crawlDatasets reads every selected document. Read errors of single
// documents are logged and skipped, walk errors are returned.
func crawlDatasets(roots []string, family string, pc *posixCrawler, filter *recordFilter, log zerolog.Logger) ([]*dataset, error) {
	var (
		datasets []*dataset
		failed   int
	)

	walkErr := pc.Crawl(roots, func(path string) {
		found, err := ExtractYaml(path, family)
		if err != nil {
			failed++
			log.Error().Err(err).Msg("skipping document")
			return
		}
		log.Debug().Str("path", path).Int("datasets", len(found)).Msg("document read")

		for _, d := range found {
			ok, err := filter.Accept(d)
			if err != nil {
				failed++
				log.Error().Err(err).Msg("skipping dataset")
				continue
			}
			if ok {
				datasets = append(datasets, d)
			}
		}
	})
	if walkErr != nil {
		return nil, walkErr
	}
	if failed > 0 {
		log.Warn().Int("failed", failed).Msg("some documents or datasets were skipped")
	}

	sort.Slice(datasets, func(i, j int) bool { return datasets[i].Identifier < datasets[j].Identifier })
	return datasets, nil
}

// seriesRecords groups the non composite datasets into dataset series,
// one named after name for datasets without a band group and one named
// name_band for every band group.
func seriesRecords(name string, datasets []*dataset) []coverages.Record {
	members := map[string][]string{}
	for _, d := range datasets {
		if d.IsComposite() {
			continue
		}
		id := name
		if len(d.Group) > 0 {
			id = name + "_" + d.Group
		}
		members[id] = append(members[id], d.Identifier)
	}

	var ids []string
	for id := range members {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []coverages.Record
	for _, id := range ids {
		out = append(out, coverages.Record{Kind: coverages.KindDatasetSeries, Identifier: id, Members: members[id]})
	}
	return out
}

func writeRecords(out io.Writer, format string, records []coverages.Record) error {
	if format == "yaml" {
		b, err := yaml.Marshal(map[string]interface{}{"records": records})
		if err != nil {
			return err
		}
		_, err = out.Write(b)
		return err
	}

	enc := json.NewEncoder(out)
	for i := range records {
		if err := enc.Encode(&records[i]); err != nil {
			return err
		}
	}
	return nil
}

func storeRecords(ctx context.Context, opts *crawlOptions, records []coverages.Record) error {
	store, err := mas.NewPostgresStore(opts.dsn, 2, 2)
	if err != nil {
		return err
	}
	defer store.Close()

	if opts.createSchema {
		if err := store.CreateSchema(ctx); err != nil {
			return fmt.Errorf("create schema: %v", err)
		}
	}
	return store.Upsert(ctx, records)
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, strings.TrimSpace(err.Error()))
		os.Exit(1)
	}
}
