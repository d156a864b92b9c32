package usecase

import (
	"context"
	"strings"

	"murmur/internal/domain"
	"murmur/internal/ports"
)

// TranslationUseCase translates only when source and target differ.
type TranslationUseCase struct {
	translator ports.Translator
}

func NewTranslationUseCase(translator ports.Translator) *TranslationUseCase {
	return &TranslationUseCase{translator: translator}
}

func (u *TranslationUseCase) TranslateIfNeeded(ctx context.Context, text string, input, output domain.Language) (domain.TranslationResult, error) {
	if input.Code == output.Code {
		return domain.TranslationResult{Text: text, OutputLanguage: output, Skipped: true}, nil
	}
	translated, err := u.translator.Translate(ctx, text, output)
	if err != nil {
		return domain.TranslationResult{}, err
	}
	return domain.TranslationResult{Text: strings.TrimSpace(translated), OutputLanguage: output}, nil
}
