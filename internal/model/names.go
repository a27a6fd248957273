package model

// displayNames backs the pid-to-name mapping shown in longest-wait
// metrics. The mapping is stable per PID; collisions across PIDs are
// accepted.
var displayNames = [...]string{
	"Ada", "Alan", "Barbara", "Bjarne", "Brendan", "Brian",
	"Claude", "Dennis", "Donald", "Dorothy", "Edsger", "Frances",
	"Grace", "Guido", "Hedy", "Jean", "John", "Katherine",
	"Ken", "Leslie", "Linus", "Lise", "Margaret", "Marvin",
	"Niklaus", "Radia", "Rich", "Rob", "Robin", "Rosalind",
	"Russ", "Sophie", "Tim", "Tony", "Vint", "Whitfield",
	"Yukihiro", "Anders", "Audrey", "Evelyn", "Mary", "Seymour",
}

// NameForPID maps a PID onto a stable display name.
func NameForPID(pid int) string {
	if pid < 0 {
		pid = -pid
	}
	return displayNames[pid%len(displayNames)]
}
