// Package journal реализует журнал сделок - долговременный источник
// правды по истории торговли. Записи append-only: закрытие сделки
// дополняет существующую запись, но ничего не удаляет.
package journal

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"autotrader/internal/models"
	"autotrader/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNoOpenTrade - нет открытой сделки по символу.
// Не фатальная ошибка: вызывающий решает, что с этим делать.
var ErrNoOpenTrade = errors.New("no open trade for symbol")

// Journal - журнал сделок с персистентностью в JSON файл.
//
// Каждая мутация перезаписывает файл целиком: при низкой частоте
// сделок это проще и надёжнее инкрементальных обновлений. Файл -
// single-writer ресурс: все циклы load-mutate-save сериализуются
// внутренним мьютексом. Разделение файла между процессами не
// поддерживается (advisory lock отсутствует).
type Journal struct {
	path string
	log  *utils.Logger

	mu     sync.Mutex
	trades []models.Trade
}

// New создаёт журнал, загружая существующий файл.
// Отсутствие файла - штатная ситуация (первый запуск), повреждённый
// файл логируется и журнал стартует пустым.
func New(path string, log *utils.Logger) (*Journal, error) {
	if log == nil {
		log = utils.L()
	}
	j := &Journal{
		path: path,
		log:  log.WithComponent("journal"),
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// первый запуск
	case err != nil:
		return nil, fmt.Errorf("read journal: %w", err)
	default:
		if uerr := json.Unmarshal(raw, &j.trades); uerr != nil {
			j.log.Warn("файл журнала повреждён, стартуем с пустым журналом",
				utils.String("path", path),
				utils.Err(uerr),
			)
			j.trades = nil
		}
	}

	j.log.Info("журнал загружен",
		utils.String("path", path),
		utils.Int("trades", len(j.trades)),
	)
	return j, nil
}

// AddTrade добавляет запись об открытой сделке и сохраняет журнал
func (j *Journal) AddTrade(trade models.Trade) error {
	if trade.Symbol == "" {
		return fmt.Errorf("trade symbol is empty")
	}
	if trade.Status == "" {
		trade.Status = models.TradeStatusOpen
	}
	if trade.OpenedAt.IsZero() {
		trade.OpenedAt = time.Now()
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	j.trades = append(j.trades, trade)
	if err := j.persist(); err != nil {
		// Откатываем, чтобы память не расходилась с диском
		j.trades = j.trades[:len(j.trades)-1]
		return err
	}

	j.log.Info("сделка записана",
		utils.Symbol(trade.Symbol),
		utils.Side(trade.Side),
		utils.Size(trade.Size),
		utils.Price(trade.EntryPrice),
	)
	return nil
}

// CloseTrade закрывает последнюю открытую сделку по символу.
//
// Поиск идёт с конца - закрывается самая свежая открытая сделка
// (LIFO, без сопоставления по цене или размеру). P&L считается по
// записанной при открытии комиссии и округляется до центов.
func (j *Journal) CloseTrade(symbol string, closePrice float64) (*models.Trade, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	for i := len(j.trades) - 1; i >= 0; i-- {
		t := &j.trades[i]
		if t.Symbol != symbol || !t.IsOpen() {
			continue
		}

		now := time.Now()
		pnl := utils.Round2(t.RealizedPnl(closePrice))

		prev := *t
		t.Status = models.TradeStatusClosed
		t.ClosePrice = closePrice
		t.ClosedAt = &now
		t.Pnl = &pnl

		if err := j.persist(); err != nil {
			*t = prev
			return nil, err
		}

		closed := *t
		j.log.Info("сделка закрыта",
			utils.Symbol(symbol),
			utils.Price(closePrice),
			utils.PNL(pnl),
		)
		return &closed, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrNoOpenTrade, symbol)
}

// OpenPositions возвращает открытые сделки (копии записей)
func (j *Journal) OpenPositions() []models.Trade {
	j.mu.Lock()
	defer j.mu.Unlock()

	var open []models.Trade
	for _, t := range j.trades {
		if t.IsOpen() {
			open = append(open, t)
		}
	}
	return open
}

// ClosedTrades возвращает закрытые сделки (копии записей)
func (j *Journal) ClosedTrades() []models.Trade {
	j.mu.Lock()
	defer j.mu.Unlock()

	var closed []models.Trade
	for _, t := range j.trades {
		if t.Status == models.TradeStatusClosed {
			closed = append(closed, t)
		}
	}
	return closed
}

// HasOpenPosition проверяет наличие открытой сделки по символу
func (j *Journal) HasOpenPosition(symbol string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	for i := len(j.trades) - 1; i >= 0; i-- {
		if j.trades[i].Symbol == symbol && j.trades[i].IsOpen() {
			return true
		}
	}
	return false
}

// Statistics вычисляет агрегированную статистику журнала.
//
// profit_ratio = avgWin / avgLoss; при отсутствии убыточных сделок
// avgLoss принимается равным 1 - осознанное приближение, сохранённое
// ради стабильности отчётных цифр.
func (j *Journal) Statistics() models.JournalStats {
	j.mu.Lock()
	defer j.mu.Unlock()

	stats := models.JournalStats{TotalTrades: len(j.trades)}

	var winSum, lossSum float64
	for _, t := range j.trades {
		switch t.Status {
		case models.TradeStatusOpen:
			stats.OpenPositions++
		case models.TradeStatusClosed:
			stats.ClosedTrades++
			if t.Pnl == nil {
				continue
			}
			pnl := *t.Pnl
			stats.TotalPnl += pnl
			if pnl > 0 {
				stats.Wins++
				winSum += pnl
			} else if pnl < 0 {
				stats.Losses++
				lossSum += -pnl
			}
		}
	}

	if stats.ClosedTrades > 0 {
		stats.WinRate = utils.Round2(float64(stats.Wins) / float64(stats.ClosedTrades) * 100)
	}

	avgWin := 0.0
	if stats.Wins > 0 {
		avgWin = winSum / float64(stats.Wins)
	}
	avgLoss := 1.0
	if stats.Losses > 0 {
		avgLoss = lossSum / float64(stats.Losses)
	}
	stats.ProfitRatio = utils.Round2(avgWin / avgLoss)
	stats.TotalPnl = utils.Round2(stats.TotalPnl)

	return stats
}

// ExportCSV выгружает журнал в CSV файл
func (j *Journal) ExportCSV(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}
	defer file.Close()
	return j.WriteCSV(file)
}

// WriteCSV пишет журнал в CSV формате в произвольный writer
// (файл экспорта, HTTP ответ)
func (j *Journal) WriteCSV(out io.Writer) error {
	j.mu.Lock()
	trades := make([]models.Trade, len(j.trades))
	copy(trades, j.trades)
	j.mu.Unlock()

	w := csv.NewWriter(out)
	defer w.Flush()

	header := []string{"symbol", "side", "size", "entry_price", "fee", "status", "opened_at", "close_price", "closed_at", "pnl", "note"}
	if err := w.Write(header); err != nil {
		return err
	}

	for _, t := range trades {
		closedAt := ""
		if t.ClosedAt != nil {
			closedAt = t.ClosedAt.Format(time.RFC3339)
		}
		pnl := ""
		if t.Pnl != nil {
			pnl = strconv.FormatFloat(*t.Pnl, 'f', 2, 64)
		}
		row := []string{
			t.Symbol,
			t.Side,
			strconv.FormatFloat(t.Size, 'f', -1, 64),
			strconv.FormatFloat(t.EntryPrice, 'f', -1, 64),
			strconv.FormatFloat(t.Fee, 'f', -1, 64),
			t.Status,
			t.OpenedAt.Format(time.RFC3339),
			strconv.FormatFloat(t.ClosePrice, 'f', -1, 64),
			closedAt,
			pnl,
			t.Note,
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}

	return w.Error()
}

// persist перезаписывает файл журнала целиком.
// ВАЖНО: вызывается под мьютексом.
// Запись через временный файл с rename: читатель никогда не увидит
// наполовину записанный журнал.
func (j *Journal) persist() error {
	raw, err := json.MarshalIndent(j.trades, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal journal: %w", err)
	}

	tmp := j.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write journal: %w", err)
	}
	if err := os.Rename(tmp, j.path); err != nil {
		return fmt.Errorf("rename journal: %w", err)
	}
	return nil
}
