package timezone

import "time"

var Location *time.Location

func init() {
	var err error
	Location, err = time.LoadLocation("America/Argentina/Buenos_Aires")
	if err != nil {
		panic(err)
	}
}

// force the timezone to Buenos Aires regardless of where the process runs,
// both portals stamp their docket entries in local court time and date
// arithmetic must agree with them
func Now() time.Time {
	return time.Now().In(Location)
}
