package nodes

import (
	"fmt"
	"time"
)

// Хелперы доступа к конфигурации node. Config приходит уже отрендеренным
// движком, но типы значений зависят от источника: JSON даёт float64 и
// map[string]any, код тестов — родные типы. Хелперы нормализуют оба случая.

// GetConfigString извлекает строковое значение из конфига.
func GetConfigString(config map[string]any, key, defaultVal string) string {
	if v, ok := config[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return defaultVal
}

// GetConfigInt извлекает числовое значение из конфига.
func GetConfigInt(config map[string]any, key string, defaultVal int) int {
	if v, ok := config[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64:
			return int(n)
		}
	}
	return defaultVal
}

// GetConfigFloat извлекает число с плавающей точкой из конфига.
func GetConfigFloat(config map[string]any, key string, defaultVal float64) float64 {
	if v, ok := config[key]; ok {
		switch n := v.(type) {
		case float64:
			return n
		case int:
			return float64(n)
		case int64:
			return float64(n)
		}
	}
	return defaultVal
}

// GetConfigBool извлекает булево значение из конфига.
func GetConfigBool(config map[string]any, key string, defaultVal bool) bool {
	if v, ok := config[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return defaultVal
}

// GetConfigMap извлекает map из конфига.
func GetConfigMap(config map[string]any, key string) map[string]any {
	if v, ok := config[key]; ok {
		if m, ok := v.(map[string]any); ok {
			return m
		}
	}
	return nil
}

// GetConfigMapString извлекает map[string]string из конфига.
func GetConfigMapString(config map[string]any, key string) map[string]string {
	if v, ok := config[key]; ok {
		switch m := v.(type) {
		case map[string]string:
			return m
		case map[string]any:
			result := make(map[string]string)
			for k, val := range m {
				if s, ok := val.(string); ok {
					result[k] = s
				}
			}
			return result
		}
	}
	return nil
}

// GetConfigSlice извлекает срез значений из конфига.
func GetConfigSlice(config map[string]any, key string) []any {
	if v, ok := config[key]; ok {
		return toSlice(v)
	}
	return nil
}

// GetConfigStringSlice извлекает срез строк из конфига.
// Не-строковые элементы приводятся через fmt.Sprint.
func GetConfigStringSlice(config map[string]any, key string) []string {
	items := GetConfigSlice(config, key)
	if items == nil {
		return nil
	}
	result := make([]string, len(items))
	for i, it := range items {
		if s, ok := it.(string); ok {
			result[i] = s
		} else {
			result[i] = fmt.Sprint(it)
		}
	}
	return result
}

// GetConfigDuration извлекает длительность из конфига по ключу вида "*_sec".
func GetConfigDuration(config map[string]any, key string, defaultVal time.Duration) time.Duration {
	if v, ok := config[key]; ok {
		switch n := v.(type) {
		case float64:
			if n > 0 {
				return time.Duration(n * float64(time.Second))
			}
		case int:
			if n > 0 {
				return time.Duration(n) * time.Second
			}
		}
	}
	return defaultVal
}

// toSlice нормализует значение в []any.
func toSlice(v any) []any {
	switch s := v.(type) {
	case []any:
		return s
	case []string:
		result := make([]any, len(s))
		for i, it := range s {
			result[i] = it
		}
		return result
	case []int:
		result := make([]any, len(s))
		for i, it := range s {
			result[i] = it
		}
		return result
	case []float64:
		result := make([]any, len(s))
		for i, it := range s {
			result[i] = it
		}
		return result
	default:
		return nil
	}
}
