package discord

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/WelcomerTeam/Sandwich-Gateway/sandwichjson"
)

// Epoch is the first millisecond of 2015, which snowflake timestamps count from.
const Epoch = 1420070400000

// Snowflake is a discord ID. It is sent as a string and accepted as either
// a string or a number.
type Snowflake int64

func (s Snowflake) IsNil() bool {
	return s == 0
}

func (s *Snowflake) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)

	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = 0

		return nil
	}

	id, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("snowflake %q: %w", b, err)
	}

	*s = Snowflake(id)

	return nil
}

func (s Snowflake) MarshalJSON() ([]byte, error) {
	return strconv.AppendQuote(make([]byte, 0, 22), s.String()), nil
}

func (s Snowflake) String() string {
	return strconv.FormatInt(int64(s), 10)
}

// Time returns when the snowflake was generated.
func (s Snowflake) Time() time.Time {
	return time.UnixMilli(int64(s)>>22 + Epoch)
}

// List marshals to an empty array rather than null when empty.
type List[T any] []T

func (l List[T]) MarshalJSON() ([]byte, error) {
	if len(l) == 0 {
		return []byte("[]"), nil
	}

	return sandwichjson.Marshal([]T(l))
}

type (
	SnowflakeList        = List[Snowflake]
	UnavailableGuildList = List[UnavailableGuild]
	GuildMemberList      = List[GuildMember]
	ActivityList         = List[Activity]
)
