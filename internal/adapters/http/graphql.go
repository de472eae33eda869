package http

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"
	"github.com/paulmach/orb"

	"github.com/buildingai/buildingai/internal/core/domain"
	"github.com/buildingai/buildingai/internal/core/usecases"
)

// ringArg reads the region of a query from either its coordinates or its
// bbox argument.
func ringArg(args map[string]interface{}) (orb.Ring, error) {
	coords, hasCoords := args["coordinates"].([]interface{})
	bbox, hasBBox := args["bbox"].([]interface{})

	switch {
	case hasCoords && hasBBox:
		return nil, domain.InvalidInput("give either coordinates or bbox, not both")
	case hasBBox:
		if len(bbox) != 4 {
			return nil, domain.InvalidInput("bbox must be [minLng, minLat, maxLng, maxLat]")
		}
		v := make([]float64, 4)
		for i, x := range bbox {
			f, ok := x.(float64)
			if !ok {
				return nil, domain.InvalidInput("bbox value %d is not a number", i)
			}
			v[i] = f
		}
		return domain.Bounds{MinLng: v[0], MinLat: v[1], MaxLng: v[2], MaxLat: v[3]}.Ring(), nil
	case hasCoords:
		ring := make(orb.Ring, 0, len(coords))
		for i, c := range coords {
			pair, ok := c.([]interface{})
			if !ok || len(pair) != 2 {
				return nil, domain.InvalidInput("vertex %d must be [lng, lat]", i)
			}
			lng, ok1 := pair[0].(float64)
			lat, ok2 := pair[1].(float64)
			if !ok1 || !ok2 {
				return nil, domain.InvalidInput("vertex %d must be [lng, lat]", i)
			}
			ring = append(ring, orb.Point{lng, lat})
		}
		return ring, nil
	}
	return nil, domain.InvalidInput("no region given")
}

func subRegionToMap(s domain.SubRegion) map[string]interface{} {
	coords := make([][]float64, len(s.Ring))
	for i, p := range s.Ring {
		coords[i] = []float64{p[0], p[1]}
	}
	return map[string]interface{}{
		"index":       s.Index,
		"coordinates": coords,
	}
}

// buildSchema creates the GraphQL schema wired to our services.
func buildSchema(deps *Dependencies) (graphql.Schema, error) {
	regionArgs := graphql.FieldConfigArgument{
		"coordinates": &graphql.ArgumentConfig{
			Type:        graphql.NewList(graphql.NewList(graphql.Float)),
			Description: "Polygon ring as [lng, lat] pairs",
		},
		"bbox": &graphql.ArgumentConfig{
			Type:        graphql.NewList(graphql.Float),
			Description: "[minLng, minLat, maxLng, maxLat]",
		},
	}

	boundsType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Bounds",
		Fields: graphql.Fields{
			"min_lng": &graphql.Field{Type: graphql.Float},
			"min_lat": &graphql.Field{Type: graphql.Float},
			"max_lng": &graphql.Field{Type: graphql.Float},
			"max_lat": &graphql.Field{Type: graphql.Float},
		},
	})

	estimateType := graphql.NewObject(graphql.ObjectConfig{
		Name: "TileEstimate",
		Fields: graphql.Fields{
			"tiles":        &graphql.Field{Type: graphql.Int},
			"limit":        &graphql.Field{Type: graphql.Int},
			"status":       &graphql.Field{Type: graphql.String},
			"soft_warning": &graphql.Field{Type: graphql.Boolean},
			"cols":         &graphql.Field{Type: graphql.Int},
			"rows":         &graphql.Field{Type: graphql.Int},
			"width_m":      &graphql.Field{Type: graphql.Float},
			"height_m":     &graphql.Field{Type: graphql.Float},
			"bounds":       &graphql.Field{Type: boundsType},
		},
	})

	subRegionType := graphql.NewObject(graphql.ObjectConfig{
		Name: "SubRegion",
		Fields: graphql.Fields{
			"index":       &graphql.Field{Type: graphql.Int},
			"coordinates": &graphql.Field{Type: graphql.NewList(graphql.NewList(graphql.Float))},
		},
	})

	statsType := graphql.NewObject(graphql.ObjectConfig{
		Name: "DetectionStats",
		Fields: graphql.Fields{
			"buildings_detected":        &graphql.Field{Type: graphql.Int},
			"tiles_processed":           &graphql.Field{Type: graphql.Int},
			"duplicates_removed":        &graphql.Field{Type: graphql.Int},
			"border_duplicates_removed": &graphql.Field{Type: graphql.Int},
			"processing_time_seconds":   &graphql.Field{Type: graphql.Float},
			"threshold":                 &graphql.Field{Type: graphql.Float},
			"tile_estimate":             &graphql.Field{Type: graphql.Int},
			"sub_regions":               &graphql.Field{Type: graphql.Int},
			"sub_regions_succeeded":     &graphql.Field{Type: graphql.Int},
		},
	})

	runType := graphql.NewObject(graphql.ObjectConfig{
		Name: "DetectionRun",
		Fields: graphql.Fields{
			"id":          &graphql.Field{Type: graphql.String},
			"status":      &graphql.Field{Type: graphql.String},
			"bounds":      &graphql.Field{Type: boundsType},
			"stats":       &graphql.Field{Type: statsType},
			"error":       &graphql.Field{Type: graphql.String},
			"started_at":  &graphql.Field{Type: graphql.DateTime},
			"finished_at": &graphql.Field{Type: graphql.DateTime},
		},
	})

	jobType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Job",
		Fields: graphql.Fields{
			"id":     &graphql.Field{Type: graphql.String},
			"status": &graphql.Field{Type: graphql.String},
			"error":  &graphql.Field{Type: graphql.String},
			"run_id": &graphql.Field{
				Type: graphql.String,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					if st, ok := p.Source.(*domain.JobStatus); ok && st.Result != nil {
						return st.Result.RunID, nil
					}
					return nil, nil
				},
			},
			"stats": &graphql.Field{
				Type: statsType,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					if st, ok := p.Source.(*domain.JobStatus); ok && st.Result != nil {
						return st.Result.Stats, nil
					}
					return nil, nil
				},
			},
		},
	})

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"tileEstimate": &graphql.Field{
				Type:        estimateType,
				Description: "Tile workload of a region and how it compares to the limit",
				Args:        regionArgs,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					ring, err := ringArg(p.Args)
					if err != nil {
						return nil, err
					}
					return deps.Detection.Estimate(ring)
				},
			},
			"partition": &graphql.Field{
				Type:        graphql.NewList(subRegionType),
				Description: "Sub-regions a region would be split into",
				Args:        regionArgs,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					ring, err := ringArg(p.Args)
					if err != nil {
						return nil, err
					}
					subs, err := deps.Detection.Partition(ring)
					if err != nil {
						return nil, err
					}
					out := make([]map[string]interface{}, len(subs))
					for i, s := range subs {
						out[i] = subRegionToMap(s)
					}
					return out, nil
				},
			},
			"runs": &graphql.Field{
				Type:        graphql.NewList(runType),
				Description: "Recorded detection runs, newest first",
				Args: graphql.FieldConfigArgument{
					"offset": &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 0},
					"limit":  &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 50},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					if deps.Runs == nil {
						return nil, fmt.Errorf("run history not available")
					}
					offset, limit := usecases.ClampPage(p.Args["offset"].(int), p.Args["limit"].(int))
					runs, _, err := deps.Runs.List(p.Context, offset, limit)
					return runs, err
				},
			},
			"run": &graphql.Field{
				Type:        runType,
				Description: "Get a recorded run by ID",
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					if deps.Runs == nil {
						return nil, fmt.Errorf("run history not available")
					}
					return deps.Runs.GetByID(p.Context, p.Args["id"].(string))
				},
			},
			"job": &graphql.Field{
				Type:        jobType,
				Description: "State of a background detection job",
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					if deps.Jobs == nil {
						return nil, fmt.Errorf("background jobs not available")
					}
					return deps.Jobs.Status(p.Context, p.Args["id"].(string))
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query: queryType,
	})
}

// GraphQLHandler serves the GraphQL endpoint. Detections themselves are
// REST-only since they stream nothing back until the whole run settles.
func GraphQLHandler(deps *Dependencies) fiber.Handler {
	schema, err := buildSchema(deps)
	if err != nil {
		panic("graphql schema build: " + err.Error())
	}

	type gqlRequest struct {
		Query         string                 `json:"query"`
		OperationName string                 `json:"operationName"`
		Variables     map[string]interface{} `json:"variables"`
	}

	return func(c *fiber.Ctx) error {
		var req gqlRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}

		result := graphql.Do(graphql.Params{
			Schema:         schema,
			RequestString:  req.Query,
			VariableValues: req.Variables,
			OperationName:  req.OperationName,
			Context:        c.UserContext(),
		})

		return c.JSON(result)
	}
}
