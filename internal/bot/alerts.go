package bot

import (
	"fmt"
	"os"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"autotrader/internal/models"
	"autotrader/pkg/utils"
)

var alertJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// AlertBook - ценовые алерты с персистентностью в JSON файл.
//
// Алерт не одноразовый: сработавший алерт остаётся в книге, пока его
// не удалят явно. Доставка уведомлений - забота внешнего слоя, книга
// только отвечает на вопрос "какие алерты пересекла эта цена".
type AlertBook struct {
	path string
	log  *utils.Logger

	mu    sync.Mutex
	above []models.PriceAlert
	below []models.PriceAlert
}

// NewAlertBook загружает книгу алертов из файла.
// Отсутствующий или повреждённый файл даёт пустую книгу.
func NewAlertBook(path string, log *utils.Logger) *AlertBook {
	if log == nil {
		log = utils.L()
	}
	b := &AlertBook{
		path: path,
		log:  log.WithComponent("alerts"),
	}

	raw, err := os.ReadFile(path)
	if err == nil {
		var book models.AlertBook
		if uerr := alertJSON.Unmarshal(raw, &book); uerr != nil {
			b.log.Warn("файл алертов повреждён, стартуем с пустой книгой", utils.Err(uerr))
		} else {
			b.above = book.Above
			b.below = book.Below
		}
	}
	return b
}

// Add добавляет алерт и сохраняет книгу
func (b *AlertBook) Add(symbol string, price float64, condition string) (models.PriceAlert, error) {
	if condition != models.AlertAbove && condition != models.AlertBelow {
		return models.PriceAlert{}, fmt.Errorf("invalid alert condition %q", condition)
	}

	alert := models.PriceAlert{
		Symbol:    symbol,
		Price:     price,
		Condition: condition,
		CreatedAt: time.Now(),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if condition == models.AlertAbove {
		b.above = append(b.above, alert)
	} else {
		b.below = append(b.below, alert)
	}
	if err := b.persist(); err != nil {
		return models.PriceAlert{}, err
	}
	return alert, nil
}

// Check возвращает алерты, которые пересекла текущая цена:
// above-алерты с порогом <= цены и below-алерты с порогом >= цены
func (b *AlertBook) Check(symbol string, currentPrice float64) []models.PriceAlert {
	b.mu.Lock()
	defer b.mu.Unlock()

	var triggered []models.PriceAlert
	for _, a := range b.above {
		if a.Symbol == symbol && currentPrice >= a.Price {
			triggered = append(triggered, a)
		}
	}
	for _, a := range b.below {
		if a.Symbol == symbol && currentPrice <= a.Price {
			triggered = append(triggered, a)
		}
	}
	return triggered
}

// Remove удаляет все алерты символа с заданным порогом.
// Возвращает количество удалённых.
func (b *AlertBook) Remove(symbol string, price float64) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	filter := func(alerts []models.PriceAlert) []models.PriceAlert {
		kept := alerts[:0]
		for _, a := range alerts {
			if a.Symbol == symbol && a.Price == price {
				removed++
				continue
			}
			kept = append(kept, a)
		}
		return kept
	}
	b.above = filter(b.above)
	b.below = filter(b.below)

	if removed > 0 {
		if err := b.persist(); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// All возвращает снимок книги алертов
func (b *AlertBook) All() models.AlertBook {
	b.mu.Lock()
	defer b.mu.Unlock()

	book := models.AlertBook{
		Above: make([]models.PriceAlert, len(b.above)),
		Below: make([]models.PriceAlert, len(b.below)),
	}
	copy(book.Above, b.above)
	copy(book.Below, b.below)
	return book
}

// persist сохраняет книгу в файл. ВАЖНО: вызывается под мьютексом.
func (b *AlertBook) persist() error {
	raw, err := alertJSON.MarshalIndent(models.AlertBook{Above: b.above, Below: b.below}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal alerts: %w", err)
	}
	if err := os.WriteFile(b.path, raw, 0o644); err != nil {
		return fmt.Errorf("write alerts: %w", err)
	}
	return nil
}
