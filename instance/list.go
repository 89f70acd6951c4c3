package instance

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// StringList is a JSON-encoded list column (extension names, online player
// names).
type StringList []string

func (l *StringList) Scan(value interface{}) error {
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("Failed to unmarshal jsonb value: %s", value)
	}
	if bytes == nil {
		*l = make(StringList, 0)
		return nil
	}
	return json.Unmarshal(bytes, l)
}

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		l = make(StringList, 0)
	}
	return json.Marshal(l)
}

func (StringList) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	switch db.Dialector.Name() {
	case "mysql", "sqlite":
		return "JSON"
	case "postgres":
		return "JSONB"
	}
	return ""
}
