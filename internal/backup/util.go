package backup

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GenerateBackupID generates a unique, time-sortable backup ID
func GenerateBackupID() string {
	return fmt.Sprintf("backup_%s_%s",
		time.Now().UTC().Format("20060102_150405"),
		uuid.NewString()[:8])
}
