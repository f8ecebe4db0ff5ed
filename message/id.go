package message

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewID returns a correlation id of the form msg_<unix-nanos>_<9 random chars>.
func NewID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("msg_%d_%s", time.Now().UnixNano(), suffix[:9])
}
