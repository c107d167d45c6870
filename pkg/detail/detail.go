// Package detail implements the per-card detail-page enrichment pipeline.
package detail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/wisbric/avitosentry/internal/telemetry"
	"github.com/wisbric/avitosentry/pkg/browsersession"
	"github.com/wisbric/avitosentry/pkg/captcha"
	"github.com/wisbric/avitosentry/pkg/cardparser"
	"github.com/wisbric/avitosentry/pkg/pagestate"
	"github.com/wisbric/avitosentry/pkg/queue"
)

// defaultPageTimeout bounds detail-page navigation when Enricher.PageTimeout
// is left unset.
const defaultPageTimeout = 30 * time.Second

// CaptchaNotSolvedError is fatal to the enclosing task.
type CaptchaNotSolvedError struct{}

func (e *CaptchaNotSolvedError) Error() string { return "detail: captcha not solved" }

// ProxyBlockedError is fatal to the enclosing task.
type ProxyBlockedError struct{ State pagestate.State }

func (e *ProxyBlockedError) Error() string {
	return fmt.Sprintf("detail: proxy blocked (state=%s)", e.State)
}

// Stats summarizes one Enrich run for the FINALIZING state's
// items_found/items_passed bookkeeping upstream.
type Stats struct {
	Processed int
	Errored   int
}

// Enricher ties the browser session, page-state detector, CAPTCHA solver,
// card parser, and store together for detail-page enrichment.
type Enricher struct {
	Detector    pagestate.Detector
	Solver      captcha.Solver
	Parser      cardparser.Parser
	Store       *queue.Store
	PageTimeout time.Duration
}

func (e *Enricher) pageTimeout() time.Duration {
	if e.PageTimeout > 0 {
		return e.PageTimeout
	}
	return defaultPageTimeout
}

// Enrich walks every card returned by GetCardsForDetailedParsing(article)
// and persists whatever detail data each yields. Individual per-card
// failures never abort the run; only captcha/proxy-block conditions do.
func (e *Enricher) Enrich(ctx context.Context, session *browsersession.Session, article string) (Stats, error) {
	cards, err := e.Store.GetCardsForDetailedParsing(ctx, article)
	if err != nil {
		return Stats{}, err
	}

	var stats Stats
	for _, card := range cards {
		if err := e.enrichOne(ctx, session, card); err != nil {
			var captchaErr *CaptchaNotSolvedError
			var proxyErr *ProxyBlockedError
			if errors.As(err, &captchaErr) || errors.As(err, &proxyErr) {
				telemetry.DetailCardsProcessedTotal.WithLabelValues("aborted").Inc()
				return stats, err
			}
			stats.Errored++
			telemetry.DetailCardsProcessedTotal.WithLabelValues("errored").Inc()
			continue
		}
		stats.Processed++
		telemetry.DetailCardsProcessedTotal.WithLabelValues("processed").Inc()
	}
	return stats, nil
}

func (e *Enricher) enrichOne(ctx context.Context, session *browsersession.Session, card queue.ParsedCard) error {
	url := fmt.Sprintf("https://www.avito.ru/%d", card.AvitoItemID)
	if err := session.Navigate(url, e.pageTimeout()); err != nil {
		// Timeout or disconnect: skip this card, count as error, continue.
		return err
	}

	state, err := e.Detector.Detect(ctx, session)
	if err != nil {
		return err
	}

	switch state {
	case pagestate.Captcha:
		solved, err := e.Solver.Solve(ctx, session, state)
		if err != nil {
			return err
		}
		if !solved {
			return &CaptchaNotSolvedError{}
		}
		state, err = e.Detector.Detect(ctx, session)
		if err != nil {
			return err
		}

	case pagestate.ProxyBlock403, pagestate.ProxyAuth407:
		return &ProxyBlockedError{State: state}
	}

	switch state {
	case pagestate.NotDetected:
		return e.persistDeletedSentinel(ctx, card.AvitoItemID)

	case pagestate.CardFound:
		html, err := session.Content()
		if err != nil {
			return err
		}
		parsed, err := e.Parser.Parse(ctx, html)
		if err != nil {
			return err
		}
		if parsed.Incomplete() {
			return fmt.Errorf("detail: card %d missing published_at, treating as incomplete", card.AvitoItemID)
		}
		return e.persistParsed(ctx, card.AvitoItemID, parsed)

	default:
		return fmt.Errorf("detail: unexpected page state %q for card %d", state, card.AvitoItemID)
	}
}

// persistDeletedSentinel writes the deleted-listing sentinel so this card
// is never re-attempted on a future run of the same article.
func (e *Enricher) persistDeletedSentinel(ctx context.Context, avitoItemID int64) error {
	emptyCharacteristics := json.RawMessage(`{}`)
	location := queue.DeletedSentinelLocation
	viewsCount := 0
	publishedAt := queue.DeletedSentinelPublishedAt
	return e.Store.UpdateCardDetailedData(ctx, avitoItemID, queue.DetailUpdate{
		PublishedAt:     &publishedAt,
		Location:        &location,
		ViewsCount:      &viewsCount,
		Characteristics: emptyCharacteristics,
		MergeIntoParsed: map[string]any{"deleted": true},
	})
}

func (e *Enricher) persistParsed(ctx context.Context, avitoItemID int64, card cardparser.Card) error {
	location := card.Location
	views := card.ViewsTotal
	return e.Store.UpdateCardDetailedData(ctx, avitoItemID, queue.DetailUpdate{
		PublishedAt:     card.PublishedAt,
		Location:        &location,
		ViewsCount:      &views,
		Characteristics: card.Characteristics,
		MergeIntoParsed: map[string]any{
			"title":       card.Title,
			"price":       card.Price,
			"seller":      card.Seller,
			"description": card.Description,
		},
	})
}
