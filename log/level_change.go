package log

// LevelChangeEntry overrides the level of the log statements at one source
// location. LineNum 0 matches every line of the file.
type LevelChangeEntry struct {
	FileName string `mapstructure:"file"`
	LineNum  int    `mapstructure:"line"`
	LogLevel Level  `mapstructure:"level"`
}

// levelChange is read only after construction.
type levelChange struct {
	changes map[string]map[int]Level
}

func newLevelChange(entries []LevelChangeEntry) *levelChange {
	c := &levelChange{
		changes: make(map[string]map[int]Level),
	}
	for _, entry := range entries {
		c.addChange(entry)
	}
	return c
}

func (lc *levelChange) Empty() bool {
	return len(lc.changes) == 0
}

func (lc *levelChange) addChange(entry LevelChangeEntry) {
	if _, ok := lc.changes[entry.FileName]; !ok {
		lc.changes[entry.FileName] = make(map[int]Level)
	}
	lc.changes[entry.FileName][entry.LineNum] = entry.LogLevel
}

// GetLevel returns the override for file:line, then for the whole file,
// falling back to level.
func (lc *levelChange) GetLevel(fileName string, lineNum int, level Level) Level {
	lines, ok := lc.changes[fileName]
	if !ok {
		return level
	}
	if lv, ok := lines[lineNum]; ok {
		return lv
	}
	if lv, ok := lines[0]; ok {
		return lv
	}
	return level
}
