package cache

import "fmt"

func JobStatusKey(jobID string) string {
	return fmt.Sprintf("job:status:%s", jobID)
}

func PollResultKey(providerJobHandle string) string {
	return fmt.Sprintf("poll:result:%s", providerJobHandle)
}
