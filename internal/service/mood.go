package service

var moodLabels = map[int]string{
	1: "😫 非常糟糕",
	2: "😟 糟糕",
	3: "😐 还行",
	4: "🙂 不错",
	5: "🥰 非常好",
}

// MoodLabel 返回分数对应的心情标签，越界分数先被拉回区间。
func MoodLabel(score int) string {
	return moodLabels[ClampScore(score)]
}
