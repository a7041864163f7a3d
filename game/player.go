package game

import "fmt"

// Player identifies who is on turn. The two players are +1 and -1 so that
// results and canonical boards can be flipped with a multiplication.
type Player int8

const (
	Player1 Player = 1
	Player2 Player = -1
)

// Other returns the opponent.
func (p Player) Other() Player {
	return -p
}

func (p Player) String() string {
	switch p {
	case Player1:
		return "p1"
	case Player2:
		return "p2"
	}
	return fmt.Sprintf("player(%d)", int8(p))
}
