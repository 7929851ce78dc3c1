package bookmarks

type Bookmark struct {
	ID    string `yaml:"id" json:"id"`
	Label string `yaml:"label" json:"label"`
	Host  string `yaml:"host" json:"host"`
	Port  int    `yaml:"port,omitempty" json:"port,omitempty"`
	Cols  int    `yaml:"cols,omitempty" json:"cols,omitempty"`
	Rows  int    `yaml:"rows,omitempty" json:"rows,omitempty"`
	Notes string `yaml:"notes,omitempty" json:"notes,omitempty"`
}
