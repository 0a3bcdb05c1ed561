package models

import "time"

// PriceAlert представляет ценовой алерт
type PriceAlert struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Condition string    `json:"condition"` // above, below
	CreatedAt time.Time `json:"created_at"`
}

// Условия срабатывания алерта
const (
	AlertAbove = "above"
	AlertBelow = "below"
)

// AlertBook - персистентный формат файла алертов: два списка по условию
type AlertBook struct {
	Above []PriceAlert `json:"above"`
	Below []PriceAlert `json:"below"`
}
