package experiment

import (
	"fmt"
	"math/rand"
	"strings"
	"unicode/utf8"
)

const (
	minNameLength = 2
	maxNameLength = 100
)

// Characters rejected in experiment names. The set matches what breaks
// filesystem paths on the platforms the output directories land on.
const invalidNameChars = `<>:"/\|?*`

// ValidateName checks an experiment name for length and forbidden
// characters.
func ValidateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if n := utf8.RuneCountInString(trimmed); n < minNameLength || n > maxNameLength {
		return validationErrorf("name", "must be between %d and %d characters", minNameLength, maxNameLength)
	}
	if i := strings.IndexAny(trimmed, invalidNameChars); i >= 0 {
		return validationErrorf("name", "contains invalid character %q", trimmed[i])
	}
	return nil
}

var nameAdjectives = []string{
	"Agile", "Bold", "Clever", "Dynamic", "Elegant", "Fast", "Graceful",
	"Heavy", "Intelligent", "Jolly", "Keen", "Lightning", "Mighty", "Noble",
	"Optimized", "Precise", "Quick", "Robust", "Swift", "Turbulent", "Ultra",
	"Vibrant", "Wild", "Xenial", "Youthful", "Zealous", "Active", "Brave",
	"Careful", "Daring", "Epic", "Fearless", "Giant", "Heroic", "Intense",
	"Joyful", "Kind", "Legendary", "Majestic", "Nimble", "Outstanding",
	"Powerful", "Quiet", "Rapid", "Strong", "Tactical", "Ultimate",
	"Victorious", "Wonderful", "Xtreme", "Young", "Zestful",
}

var nameAnimals = []string{
	"Falcon", "Tiger", "Eagle", "Wolf", "Lion", "Shark", "Panther",
	"Cheetah", "Hawk", "Bear", "Fox", "Lynx", "Jaguar", "Leopard", "Raven",
	"Phoenix", "Dragon", "Griffin", "Viper", "Cobra", "Stallion", "Mustang",
	"Bronco", "Rhino", "Bison", "Moose", "Elk", "Deer", "Gazelle",
	"Antelope", "Dolphin", "Whale", "Orca", "Barracuda", "Manta", "Octopus",
	"Squid", "Owl", "Condor", "Albatross", "Pelican", "Heron", "Crane",
	"Swan", "Badger", "Wolverine", "Weasel", "Ferret", "Otter", "Beaver",
	"Marmot",
}

// GenerateName produces a fresh "Adjective Animal" experiment name not
// already claimed according to taken. After a bounded number of random draws
// it falls back to appending a numeric suffix, which always terminates.
func GenerateName(taken func(string) bool) string {
	for i := 0; i < 100; i++ {
		name := fmt.Sprintf("%s %s",
			nameAdjectives[rand.Intn(len(nameAdjectives))],
			nameAnimals[rand.Intn(len(nameAnimals))])
		if !taken(name) {
			return name
		}
	}

	base := fmt.Sprintf("%s %s",
		nameAdjectives[rand.Intn(len(nameAdjectives))],
		nameAnimals[rand.Intn(len(nameAnimals))])
	for n := 2; ; n++ {
		name := fmt.Sprintf("%s #%d", base, n)
		if !taken(name) {
			return name
		}
	}
}
