package utils

import "math"

// Round округляет до заданного количества знаков после запятой
func Round(value float64, decimals int) float64 {
	factor := math.Pow(10, float64(decimals))
	return math.Round(value*factor) / factor
}

// Round2 округляет до центов (денежные суммы, P&L)
func Round2(value float64) float64 {
	return Round(value, 2)
}

// Round8 округляет до 8 знаков (размеры в базовой валюте)
func Round8(value float64) float64 {
	return Round(value, 8)
}
