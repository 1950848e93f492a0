package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/unieasy/places-cli/internal/config"
	"github.com/unieasy/places-cli/internal/places"
	"github.com/unieasy/places-cli/internal/store"
)

var placesCmd = &cobra.Command{
	Use:   "places",
	Short: "Inspect the places table",
}

// -- places list --

var placesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored places, best rated first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		filter, err := placeFilterFromFlags(cmd)
		if err != nil {
			return err
		}
		format, _ := cmd.Flags().GetString("format")
		if err := checkFormat(format); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		list, total, err := st.ListPlaces(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "places list")
		}

		return writePlaces(cmd.OutOrStdout(), format, placePage{
			Total:  total,
			Limit:  filter.Limit,
			Offset: filter.Offset,
			Places: list,
		})
	},
}

// -- places stale --

var placesStaleCmd = &cobra.Command{
	Use:   "stale",
	Short: "List seeded places whose live data has expired",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		ttl, _ := cmd.Flags().GetDuration("ttl")
		limit, _ := cmd.Flags().GetInt("limit")
		if ttl <= 0 {
			return &config.ValidationError{Field: "ttl", Value: ttl, Reason: "must be positive"}
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		now := time.Now().UTC()
		list, err := st.ListStale(ctx, now.Add(-ttl), store.ClampLimit(limit))
		if err != nil {
			return eris.Wrap(err, "places stale")
		}

		if len(list) == 0 {
			_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "No stale places.")
			return nil
		}
		formatStaleList(cmd.OutOrStdout(), list, now)
		return nil
	},
}

func init() {
	f := placesListCmd.Flags()
	f.String("category", "", "filter by app category")
	f.String("type", "", "filter by sub-type")
	f.String("bbox", "", `bounding box as "lat1,lng1,lat2,lng2"`)
	f.Bool("on-campus", false, "filter by the on-campus flag (only applied when set)")
	f.Int("limit", store.DefaultListLimit, fmt.Sprintf("max rows to return, clamped to 1-%d", store.MaxListLimit))
	f.Int("offset", 0, "rows to skip (negative means 0)")
	f.String("format", "table", "output format: table, json or yaml")

	placesStaleCmd.Flags().Duration("ttl", places.OpeningHoursTTL, "age after which last_fetched_at counts as stale")
	placesStaleCmd.Flags().Int("limit", store.DefaultListLimit, "max rows to return")

	placesCmd.AddCommand(placesListCmd)
	placesCmd.AddCommand(placesStaleCmd)
	rootCmd.AddCommand(placesCmd)
}

// placeFilterFromFlags validates the list flags.
func placeFilterFromFlags(cmd *cobra.Command) (store.PlaceFilter, error) {
	category, _ := cmd.Flags().GetString("category")
	subType, _ := cmd.Flags().GetString("type")
	bbox, _ := cmd.Flags().GetString("bbox")
	limit, _ := cmd.Flags().GetInt("limit")
	offset, _ := cmd.Flags().GetInt("offset")

	// Out-of-range paging values are clamped rather than rejected.
	filter := store.PlaceFilter{
		Category: category,
		SubType:  subType,
		Limit:    min(max(limit, 1), store.MaxListLimit),
		Offset:   max(offset, 0),
	}

	if category != "" && !places.IsValidCategory(category) {
		return filter, &config.ValidationError{Field: "category", Value: category, Reason: "unknown category"}
	}
	if bbox != "" {
		b, err := places.ParseBBox(bbox)
		if err != nil {
			return filter, &config.ValidationError{Field: "bbox", Value: bbox, Reason: err.Error()}
		}
		filter.BBox = b
	}
	if cmd.Flags().Changed("on-campus") {
		onCampus, _ := cmd.Flags().GetBool("on-campus")
		filter.OnCampus = &onCampus
	}
	return filter, nil
}

// placePage is one page of list output.
type placePage struct {
	Total  int            `json:"total" yaml:"total"`
	Limit  int            `json:"limit" yaml:"limit"`
	Offset int            `json:"offset" yaml:"offset"`
	Places []places.Place `json:"places" yaml:"places"`
}

func checkFormat(format string) error {
	switch format {
	case "table", "json", "yaml":
		return nil
	default:
		return &config.ValidationError{Field: "format", Value: format, Reason: "must be table, json or yaml"}
	}
}

// writePlaces renders page in the requested format.
func writePlaces(out io.Writer, format string, page placePage) error {
	if page.Places == nil {
		page.Places = []places.Place{}
	}

	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(page)
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(page); err != nil {
			return eris.Wrap(err, "encode yaml")
		}
		return enc.Close()
	default:
		formatPlacesTable(out, page)
		return nil
	}
}

func formatPlacesTable(out io.Writer, page placePage) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tCATEGORY\tTYPE\tRATING\tREVIEWS\tLAT\tLNG\tFLAGS")
	_, _ = fmt.Fprintln(w, "----\t--------\t----\t------\t-------\t---\t---\t-----")

	for _, p := range page.Places {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%.5f\t%.5f\t%s\n",
			truncate(p.Name, 32),
			p.Category,
			deref(p.SubType),
			formatRating(p.Rating),
			formatCount(p.RatingCount),
			p.Lat,
			p.Lng,
			placeFlags(p),
		)
	}
	_ = w.Flush()
	_, _ = fmt.Fprintf(out, "\n%d of %d places (offset %d)\n", len(page.Places), page.Total, page.Offset)
}

func formatStaleList(out io.Writer, list []places.Place, now time.Time) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tCATEGORY\tLAST_FETCHED\tAGE\tLIVE_DATA")
	_, _ = fmt.Fprintln(w, "----\t--------\t------------\t---\t---------")

	for _, p := range list {
		fetched, age := "never", "-"
		if p.LastFetchedAt != nil {
			fetched = p.LastFetchedAt.UTC().Format("2006-01-02 15:04")
			age = now.Sub(*p.LastFetchedAt).Round(time.Minute).String()
		}
		live := "fresh"
		if places.IsLiveDataStale(p.LastFetchedAt, now) {
			live = "stale"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", truncate(p.Name, 32), p.Category, fetched, age, live)
	}
	_ = w.Flush()
	_, _ = fmt.Fprintf(out, "\n%d stale places\n", len(list))
}

func placeFlags(p places.Place) string {
	var flags []string
	if p.IsOnCampus {
		flags = append(flags, "campus")
	}
	if p.IsManualOverride {
		flags = append(flags, "manual")
	}
	if p.IsStatic {
		flags = append(flags, "static")
	}
	if p.Protected() {
		flags = append(flags, "protected")
	}
	return strings.Join(flags, ",")
}

func formatRating(r *float64) string {
	if r == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f", *r)
}

func formatCount(n *int) string {
	if n == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *n)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func truncate(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-3]) + "..."
}
