// consentctl replays one banner decision through the consent manager and
// reports it to a consent log endpoint. Operators use it to smoke-test
// /api/consent-log and to inspect what the manager would do on a page.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/frlabs/sitegate/internal/config"
	"github.com/frlabs/sitegate/internal/consent"
	"github.com/frlabs/sitegate/internal/pkg/logger"
	json "github.com/goccy/go-json"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	var (
		pageURL   = flag.String("url", "https://localhost/", "page the banner is shown on")
		action    = flag.String("action", "accept", "accept, deny, dismiss or save-selected")
		analytics = flag.Bool("analytics", false, "analytics choice for save-selected")
		marketing = flag.Bool("marketing", false, "marketing choice for save-selected")
		cookies   = flag.String("cookies", "", "comma separated cookie names already on the page")
		endpoint  = flag.String("endpoint", "", "consent log endpoint, overrides tracking.consent_log_endpoint")
		referrer  = flag.String("referrer", "", "document referrer")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.Init(cfg.Server.LogLevel)

	loc, err := consent.ParseLocation(*pageURL)
	if err != nil {
		log.Fatalf("Invalid page url: %v", err)
	}
	loc.Referrer = *referrer
	loc.UserAgent = "consentctl"

	tracking := consent.TrackingConfig{
		GA4MeasurementID:   cfg.Tracking.GA4MeasurementID,
		GoogleAdsID:        cfg.Tracking.GoogleAdsID,
		MetaPixelID:        cfg.Tracking.MetaPixelID,
		ConsentLogEndpoint: cfg.Tracking.ConsentLogEndpoint,
		PolicyVersion:      cfg.Tracking.PolicyVersion,
	}
	if *endpoint != "" {
		tracking.ConsentLogEndpoint = *endpoint
	}

	jar := consent.NewMemoryJar(loc.Hostname)
	for _, name := range strings.Split(*cookies, ",") {
		if name = strings.TrimSpace(name); name != "" {
			jar.Set(name, "1", "", "/", loc.Secure)
		}
	}

	host := consent.NewMemoryScriptHost()
	dl, sinks := consent.DefaultSinks(tracking, host)
	reporter := consent.NewHTTPReporter(tracking.ConsentLogEndpoint)

	m := consent.NewManager(consent.Options{
		Storage:  consent.NewMemoryStorage(),
		Cookies:  jar,
		Location: loc,
		Config:   tracking,
		Sinks:    sinks,
		Reporter: reporter,
		Logger:   logger.Get(),
	})
	m.Init()

	rec, err := m.Handle(consent.Action(*action), consent.Preferences{Analytics: *analytics, Marketing: *marketing})
	if err != nil {
		log.Fatalf("Action failed: %v", err)
	}
	reporter.Wait()

	out := struct {
		Record   *consent.Record   `json:"record"`
		State    string            `json:"state"`
		Scripts  []string          `json:"scripts"`
		GTag     []consent.Command `json:"gtag"`
		Expiries []string          `json:"cookie_expiries"`
		Cookies  []string          `json:"cookies_left"`
	}{
		Record:   rec,
		State:    m.State().String(),
		Scripts:  host.Scripts(),
		GTag:     dl.Commands(),
		Expiries: jar.Issued(),
		Cookies:  jar.Names(),
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
