// Package preferences хранит единственную пользовательскую настройку —
// код локали. Читается при старте, пишется сразу при изменении.
package preferences

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"taskReminder/internal/logger"
	"taskReminder/internal/models/task"

	"go.uber.org/zap"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

const DefaultLocale = "en"

var supported = []language.Tag{language.English, language.Portuguese}

var matcher = language.NewMatcher(supported)

type document struct {
	Locale string `yaml:"locale"`
}

type Store struct {
	path string

	mu     sync.RWMutex
	locale string
}

// Load читает файл настроек; отсутствующий файл даёт локаль по умолчанию
func Load(path string) (*Store, error) {
	s := &Store{path: path, locale: DefaultLocale}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Info("Preferences: Файл настроек не найден, используется локаль по умолчанию", zap.String("path", path))
			return s, nil
		}
		return nil, fmt.Errorf("чтение настроек: %w", err)
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("разбор настроек: %w", err)
	}
	if doc.Locale != "" {
		code, err := Normalize(doc.Locale)
		if err != nil {
			logger.Warn("Preferences: Неподдерживаемая локаль в файле", zap.String("locale", doc.Locale))
		} else {
			s.locale = code
		}
	}

	logger.Info("Preferences: Настройки загружены", zap.String("locale", s.locale))
	return s, nil
}

// Normalize приводит код к одной из поддерживаемых локалей
func Normalize(code string) (string, error) {
	tag, err := language.Parse(code)
	if err != nil {
		return "", &task.ValidationError{Field: "locale", Reason: fmt.Sprintf("неверный код локали %q", code)}
	}
	_, idx, confidence := matcher.Match(tag)
	if confidence < language.High {
		return "", &task.ValidationError{Field: "locale", Reason: fmt.Sprintf("локаль %q не поддерживается", code)}
	}
	base, _ := supported[idx].Base()
	return base.String(), nil
}

func (s *Store) Locale() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.locale
}

// Tag — текущая локаль для форматирования сообщений
func (s *Store) Tag() language.Tag {
	return language.Make(s.Locale())
}

// SetLocale проверяет код и сразу сохраняет его на диск
func (s *Store) SetLocale(code string) error {
	normalized, err := Normalize(code)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.write(document{Locale: normalized}); err != nil {
		logger.Error("Preferences: Не удалось сохранить настройки", err, zap.String("path", s.path))
		return err
	}
	s.locale = normalized
	logger.Info("Preferences: Локаль изменена", zap.String("locale", normalized))
	return nil
}

// запись через временный файл, чтобы не оставить полупустой файл
func (s *Store) write(doc document) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("сериализация настроек: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("создание каталога настроек: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".preferences-*.yml")
	if err != nil {
		return fmt.Errorf("временный файл настроек: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("запись настроек: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("запись настроек: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("замена файла настроек: %w", err)
	}
	return nil
}
