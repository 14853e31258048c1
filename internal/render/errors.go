package render

import "errors"

// Ошибки рендеринга.
var (
	// ErrTemplateParse — шаблон не разбирается.
	ErrTemplateParse = errors.New("template parse failed")

	// ErrTemplateRender — ошибка исполнения шаблона для устройства.
	ErrTemplateRender = errors.New("template render failed")

	// ErrEmptyRender — после нормализации не осталось ни одной команды.
	ErrEmptyRender = errors.New("template rendered no commands")
)
