package reporting

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"github.com/minwoocho/stock-auto-trader/internal/recorder"
)

// DailyReporter writes an end-of-day Excel workbook of the session's
// trades from the recorder.
type DailyReporter struct {
	rec recorder.Recorder
	dir string
	log zerolog.Logger
}

func NewDailyReporter(rec recorder.Recorder, dir string, log zerolog.Logger) *DailyReporter {
	return &DailyReporter{
		rec: rec,
		dir: dir,
		log: log.With().Str("component", "reporting").Logger(),
	}
}

// Write generates the report for the given trading day and returns the
// file path.
func (r *DailyReporter) Write(ctx context.Context, day time.Time) (string, error) {
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	to := from.Add(24 * time.Hour)

	trades, err := r.rec.TradesBetween(ctx, from, to)
	if err != nil {
		return "", fmt.Errorf("load trades: %w", err)
	}

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}
	path := filepath.Join(r.dir, fmt.Sprintf("trades_%s.xlsx", from.Format("2006-01-02")))

	fx := excelize.NewFile()
	defer fx.Close()

	const tradesSheet = "Trades"
	const summarySheet = "Summary"
	fx.SetSheetName(fx.GetSheetName(0), tradesSheet)
	if _, err := fx.NewSheet(summarySheet); err != nil {
		return "", err
	}

	headerStyle, err := fx.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"366092"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return "", fmt.Errorf("create styles: %w", err)
	}

	if err := r.writeTrades(fx, tradesSheet, trades, headerStyle); err != nil {
		return "", fmt.Errorf("write trades sheet: %w", err)
	}
	if err := r.writeSummary(fx, summarySheet, from, trades, headerStyle); err != nil {
		return "", fmt.Errorf("write summary sheet: %w", err)
	}

	if err := fx.SaveAs(path); err != nil {
		return "", fmt.Errorf("save report: %w", err)
	}
	r.log.Info().Str("path", path).Int("trades", len(trades)).Msg("daily report written")
	return path, nil
}

func (r *DailyReporter) writeTrades(fx *excelize.File, sheet string, trades []recorder.TradeRecord, headerStyle int) error {
	headers := []string{"Time", "Security", "Name", "Side", "Quantity", "Price", "Trigger", "PnL %"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := fx.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
	}
	last, _ := excelize.CoordinatesToCellName(len(headers), 1)
	if err := fx.SetCellStyle(sheet, "A1", last, headerStyle); err != nil {
		return err
	}

	for i, t := range trades {
		row := i + 2
		values := []any{
			t.ExecutedAt.Format("15:04:05"),
			t.SecurityID,
			t.Name,
			t.Side,
			t.Quantity,
			t.Price,
			t.Trigger,
			t.PnLPct,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			if err := fx.SetCellValue(sheet, cell, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *DailyReporter) writeSummary(fx *excelize.File, sheet string, day time.Time, trades []recorder.TradeRecord, headerStyle int) error {
	var buys, sells, wins, losses int
	var realizedPnL float64
	for _, t := range trades {
		switch t.Side {
		case "buy":
			buys++
		case "sell":
			sells++
			realizedPnL += t.PnLPct
			if t.PnLPct >= 0 {
				wins++
			} else {
				losses++
			}
		}
	}

	winRate := 0.0
	if sells > 0 {
		winRate = float64(wins) / float64(sells) * 100
	}

	rows := [][]any{
		{"Metric", "Value"},
		{"Date", day.Format("2006-01-02")},
		{"Total trades", len(trades)},
		{"Entries", buys},
		{"Exits", sells},
		{"Winning exits", wins},
		{"Losing exits", losses},
		{"Win rate %", winRate},
		{"Realized PnL % (sum)", realizedPnL},
	}
	for i, row := range rows {
		for col, v := range row {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+1)
			if err := fx.SetCellValue(sheet, cell, v); err != nil {
				return err
			}
		}
	}
	return fx.SetCellStyle(sheet, "A1", "B1", headerStyle)
}
