package collector

import (
	"errors"
	"net/http"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-scanner/internal/model"
	"github.com/sells-group/lead-scanner/pkg/google"
	"github.com/sells-group/lead-scanner/pkg/linkedin"
)

// StrategyKind selects between a source's primary and fallback collector.
type StrategyKind string

const (
	StrategyPrimary  StrategyKind = "primary"
	StrategyFallback StrategyKind = "fallback"
	// StrategyAuto picks primary when its credentials are present.
	StrategyAuto StrategyKind = "auto"
)

// ParseStrategyKind validates a configured strategy. Empty means auto.
func ParseStrategyKind(s string) (StrategyKind, error) {
	switch k := StrategyKind(strings.ToLower(strings.TrimSpace(s))); k {
	case "", StrategyAuto:
		return StrategyAuto, nil
	case StrategyPrimary, StrategyFallback:
		return k, nil
	default:
		return "", eris.Errorf("collector: unknown strategy %q", s)
	}
}

var errNoFallback = eris.New("collector: source has no fallback")

// Strategy is the resolved collector for one source. Kind is always
// primary or fallback, never auto.
type Strategy struct {
	Source    model.Source
	Kind      StrategyKind
	Collector Collector
}

// Credentials are the keys the primary collectors need.
type Credentials struct {
	MapsAPIKey     string
	SearchAPIKey   string
	SearchEngineID string
	LinkedInToken  string
}

// SourceSettings is the per-source configuration.
type SourceSettings struct {
	Enabled  bool
	Strategy StrategyKind
}

// Options drive Build.
type Options struct {
	Deps        Deps
	Credentials Credentials
	Sources     map[model.Source]SourceSettings
	Keywords    []string
	HTTPClient  *http.Client // used by every transport; nil keeps each default

	// Client overrides, mainly for tests.
	Places   google.PlacesClient
	Search   google.SearchClient
	LinkedIn linkedin.Client
	NewsURL  string
	WebURL   string
}

// Build resolves one Strategy per enabled source, in model.AllSources order.
// Resolution happens once here; collectors never fall through at runtime.
func Build(opts Options) ([]Strategy, error) {
	var out []Strategy
	for _, src := range model.AllSources {
		set, ok := opts.Sources[src]
		if !ok {
			set = SourceSettings{Enabled: true, Strategy: StrategyAuto}
		}
		if !set.Enabled {
			continue
		}
		st, err := resolve(src, set.Strategy, opts)
		if errors.Is(err, errNoFallback) && (set.Strategy == "" || set.Strategy == StrategyAuto) {
			zap.L().Warn("collector: source skipped, no credentials and no fallback", zap.String("source", string(src)))
			continue
		}
		if err != nil {
			return nil, err
		}
		zap.L().Info("collector: resolved strategy",
			zap.String("source", string(src)),
			zap.String("kind", string(st.Kind)),
			zap.String("collector", st.Collector.Name()),
		)
		out = append(out, st)
	}
	return out, nil
}

// Collectors flattens resolved strategies.
func Collectors(strategies []Strategy) []Collector {
	out := make([]Collector, 0, len(strategies))
	for _, s := range strategies {
		out = append(out, s.Collector)
	}
	return out
}

func resolve(src model.Source, kind StrategyKind, opts Options) (Strategy, error) {
	if kind == "" {
		kind = StrategyAuto
	}
	hasPrimary := primaryConfigured(src, opts)
	if kind == StrategyAuto {
		kind = StrategyFallback
		if hasPrimary {
			kind = StrategyPrimary
		}
	}
	if kind == StrategyPrimary && !hasPrimary {
		return Strategy{}, eris.Errorf("collector: %s primary strategy requires credentials", src)
	}

	var c Collector
	switch {
	case src == model.SourceMaps && kind == StrategyPrimary:
		places := opts.Places
		if places == nil {
			places = google.NewPlacesClient(opts.Credentials.MapsAPIKey, googleOpts(opts)...)
		}
		c = NewMaps(places, opts.Deps)
	case src == model.SourceMaps:
		return Strategy{}, eris.Wrap(errNoFallback, "collector: configure google.maps_api_key or disable maps")
	case src == model.SourceSearch && kind == StrategyPrimary:
		search := opts.Search
		if search == nil {
			search = google.NewSearchClient(opts.Credentials.SearchAPIKey, opts.Credentials.SearchEngineID, googleOpts(opts)...)
		}
		c = NewSearch(search, opts.Keywords, opts.Deps)
	case src == model.SourceSearch:
		var nopts []NewsOption
		if opts.NewsURL != "" {
			nopts = append(nopts, WithNewsURL(opts.NewsURL))
		}
		if opts.HTTPClient != nil {
			nopts = append(nopts, WithNewsHTTPClient(opts.HTTPClient))
		}
		c = NewNews(opts.Keywords, opts.Deps, nopts...)
	case src == model.SourceSocial && kind == StrategyPrimary:
		li := opts.LinkedIn
		if li == nil {
			var lopts []linkedin.Option
			if opts.HTTPClient != nil {
				lopts = append(lopts, linkedin.WithHTTPClient(opts.HTTPClient))
			}
			li = linkedin.NewClient(opts.Credentials.LinkedInToken, lopts...)
		}
		c = NewSocial(li, opts.Keywords, opts.Deps)
	case src == model.SourceSocial:
		var sopts []ScrapeOption
		if opts.WebURL != "" {
			sopts = append(sopts, WithScrapeURL(opts.WebURL))
		}
		if opts.HTTPClient != nil {
			sopts = append(sopts, WithScrapeHTTPClient(opts.HTTPClient))
		}
		c = NewSocialScrape(opts.Keywords, opts.Deps, sopts...)
	default:
		return Strategy{}, eris.Errorf("collector: unknown source %q", src)
	}
	return Strategy{Source: src, Kind: kind, Collector: c}, nil
}

func primaryConfigured(src model.Source, opts Options) bool {
	switch src {
	case model.SourceMaps:
		return opts.Places != nil || opts.Credentials.MapsAPIKey != ""
	case model.SourceSearch:
		return opts.Search != nil || (opts.Credentials.SearchAPIKey != "" && opts.Credentials.SearchEngineID != "")
	case model.SourceSocial:
		return opts.LinkedIn != nil || opts.Credentials.LinkedInToken != ""
	default:
		return false
	}
}

func googleOpts(opts Options) []google.Option {
	if opts.HTTPClient == nil {
		return nil
	}
	return []google.Option{google.WithHTTPClient(opts.HTTPClient)}
}
