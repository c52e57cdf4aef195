package report

import (
	"sort"

	"github.com/rileyhilliard/dockhop/internal/docker"
	"github.com/samber/lo"
)

// topImagesLimit caps Statistics.TopImages.
const topImagesLimit = 10

// ImageCount is how many containers run one image.
type ImageCount struct {
	Image string `json:"image"`
	Count int    `json:"count"`
}

// Statistics breaks the report's containers down by image and state.
type Statistics struct {
	Summary   Summary        `json:"summary"`
	Images    map[string]int `json:"images"`
	States    map[string]int `json:"states"`
	TopImages []ImageCount   `json:"top_images"`
}

// Stats computes Statistics over the containers in rep. Missing images and
// states are counted as "unknown".
func Stats(rep *Report) Statistics {
	images := countBy(rep.Containers, func(c docker.ContainerRecord) string { return c.Image })
	states := countBy(rep.Containers, func(c docker.ContainerRecord) string { return string(c.State) })

	top := lo.Map(lo.Entries(images), func(e lo.Entry[string, int], _ int) ImageCount {
		return ImageCount{Image: e.Key, Count: e.Value}
	})
	sort.Slice(top, func(i, j int) bool {
		if top[i].Count != top[j].Count {
			return top[i].Count > top[j].Count
		}
		return top[i].Image < top[j].Image
	})
	if len(top) > topImagesLimit {
		top = top[:topImagesLimit]
	}

	return Statistics{
		Summary:   rep.Summary,
		Images:    images,
		States:    states,
		TopImages: top,
	}
}

func countBy(containers []docker.ContainerRecord, key func(docker.ContainerRecord) string) map[string]int {
	groups := lo.GroupBy(containers, func(c docker.ContainerRecord) string {
		return lo.Ternary(key(c) != "", key(c), "unknown")
	})
	return lo.MapValues(groups, func(cs []docker.ContainerRecord, _ string) int { return len(cs) })
}
