package bot

// Состояния трейлинг-стопа
const (
	StopStatePending   = "pending"   // ждёт активации (цена ещё не дошла)
	StopStateActive    = "active"    // стоп выставлен и подтягивается за ценой
	StopStateTriggered = "triggered" // цена пересекла стоп, позиция ликвидируется
)

// ValidTransitions определяет допустимые переходы между состояниями.
// Переходы строго монотонные: возврата в pending нет, triggered - терминал.
var ValidTransitions = map[string][]string{
	StopStatePending:   {StopStateActive},
	StopStateActive:    {StopStateTriggered},
	StopStateTriggered: {},
}

// CanTransition проверяет допустимость перехода
func CanTransition(from, to string) bool {
	allowed, ok := ValidTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// StateInfo возвращает описание состояния для UI
func StateInfo(s string) string {
	switch s {
	case StopStatePending:
		return "Ожидание активации (цена не достигла порога)"
	case StopStateActive:
		return "Стоп активен, подтягивается за ценой"
	case StopStateTriggered:
		return "Стоп сработал, позиция ликвидируется"
	default:
		return "Неизвестное состояние"
	}
}

// IsTerminalState возвращает true для терминального состояния
func IsTerminalState(s string) bool {
	return s == StopStateTriggered
}
