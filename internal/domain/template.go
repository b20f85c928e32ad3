package domain

// ResourceLocator — непрозрачный указатель на изображение (путь к локальному файлу).
// Ядро не интерпретирует его, а только передаёт препроцессору.
type ResourceLocator string

// Template описывает эталонное изображение галереи.
// Имя уникально в пределах галереи и служит идентичностью шаблона.
type Template struct {
	Name     string
	ImageRef string // ключ объекта в хранилище шаблонов или относительный путь
}

func NewTemplate(name string, imageRef string) Template {
	return Template{
		Name:     name,
		ImageRef: imageRef,
	}
}
